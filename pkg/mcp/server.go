// Package mcp implements a Model Context Protocol server exposing
// devpulse's facade operations as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumatoshi-tech/devpulse/internal/observability"
	"github.com/sumatoshi-tech/devpulse/pkg/facade"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "devpulse"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools.
	toolCount = 7
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Facade is the read-only query surface every tool dispatches to.
	Facade facade.Facade

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with devpulse tool registrations.
type Server struct {
	inner   *mcpsdk.Server
	mu      sync.RWMutex
	tools   []string
	facade  facade.Facade
	metrics *observability.REDMetrics
	tracer  trace.Tracer
}

// NewServer creates a new MCP server with every devpulse facade
// operation registered as a tool.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:   inner,
		tools:   make([]string, 0, toolCount),
		facade:  deps.Facade,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all devpulse MCP tools to the server, each a thin
// adapter calling straight through to s.facade.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameProjectStatus,
		Description: projectStatusDescription,
	}, wrap(s, ToolNameProjectStatus, handleProjectStatus))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameMetrics,
		Description: metricsDescription,
	}, wrap(s, ToolNameMetrics, handleMetrics))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameActivityLog,
		Description: activityLogDescription,
	}, wrap(s, ToolNameActivityLog, handleActivityLog))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameBottlenecks,
		Description: bottlenecksDescription,
	}, wrap(s, ToolNameBottlenecks, handleBottlenecks))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameMethodology,
		Description: methodologyDescription,
	}, wrap(s, ToolNameMethodology, handleMethodology))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameStage,
		Description: stageDescription,
	}, wrap(s, ToolNameStage, handleStage))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameAICollaboration,
		Description: aiCollaborationDescription,
	}, wrap(s, ToolNameAICollaboration, handleAICollaboration))
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// wrap composes the tracing and metrics middleware around a handler and
// records the tool name, matching the order every tool is registered in.
func wrap[Input any](
	s *Server,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input, facade.Facade) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	bound := func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		return handler(ctx, req, input, s.facade)
	}

	s.trackTool(toolName)

	return withMetrics(s.metrics, toolName, withTracing(s.tracer, toolName, bound))
}

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	projectStatusDescription = "Get the current development stage, methodology scores, " +
		"active monitors, and recent activity for the project."

	metricsDescription = "Get aggregated productivity/quality/performance/collaboration " +
		"metrics over a time range, with bottleneck-derived recommendations."

	activityLogDescription = "Get a chronological log of recent file, git, test, build, " +
		"and AI-assistant activity, with per-category/severity summaries."

	bottlenecksDescription = "Detect workflow bottlenecks (threshold breaches, trend " +
		"anomalies, stuck stages, file hotspots, queue backlog, subscriber errors)."

	methodologyDescription = "Check DDD/TDD/BDD/EDA methodology adherence scores derived " +
		"from commit messages and file/test activity."

	stageDescription = "Analyze the current development stage (PRD, planning, ERD, wireframe, " +
		"screen_design, design, frontend, backend, ai_collab, coding, git, deployment, " +
		"operation) with confidence and recent transitions."

	aiCollaborationDescription = "Analyze AI coding assistant usage: sessions, acceptance " +
		"rate, estimated time saved, and peak usage hours."
)
