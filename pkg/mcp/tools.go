package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/facade"
)

// Tool name constants.
const (
	ToolNameProjectStatus   = "devpulse_project_status"
	ToolNameMetrics         = "devpulse_metrics"
	ToolNameActivityLog     = "devpulse_activity_log"
	ToolNameBottlenecks     = "devpulse_bottlenecks"
	ToolNameMethodology     = "devpulse_methodology"
	ToolNameStage           = "devpulse_stage"
	ToolNameAICollaboration = "devpulse_ai_collaboration"
)

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// errorResult builds a CallToolResult with isError set, mirroring a
// facade.Error's kind/message.
func errorResult(ferr *facade.Error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf("%s: %s", ferr.Kind, ferr.Message)},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(&facade.Error{Kind: facade.ErrKindInternal, Message: fmt.Sprintf("encode result: %v", err)})
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// ProjectStatusInput is the input schema for devpulse_project_status.
type ProjectStatusInput struct {
	IncludeDetails bool `json:"includeDetails,omitempty" jsonschema:"include recent activity in the response"`
}

func handleProjectStatus(
	_ context.Context, _ *mcpsdk.CallToolRequest, in ProjectStatusInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	status, ferr := f.GetProjectStatus(in.IncludeDetails)
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(status)
}

// MetricsInput is the input schema for devpulse_metrics.
type MetricsInput struct {
	TimeRange string `json:"timeRange,omitempty" jsonschema:"time window: 1h, 1d, 1w, or 1m (default 1d)"`
	Kind      string `json:"kind,omitempty"      jsonschema:"metric kind: all, commits, files, tests, or builds"`
}

func handleMetrics(
	_ context.Context, _ *mcpsdk.CallToolRequest, in MetricsInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	kind := facade.MetricKind(in.Kind)
	if kind == "" {
		kind = facade.MetricKindAll
	}

	report, ferr := f.GetMetrics(facade.TimeRange(in.TimeRange), kind)
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(report)
}

// ActivityLogInput is the input schema for devpulse_activity_log.
type ActivityLogInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of entries to return (default 50)"`
	Kind  string `json:"kind,omitempty"  jsonschema:"optional event category filter (e.g. git, file, test, build, ai)"`
}

func handleActivityLog(
	_ context.Context, _ *mcpsdk.CallToolRequest, in ActivityLogInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	log, ferr := f.GetActivityLog(in.Limit, in.Kind)
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(log)
}

// BottlenecksInput is the input schema for devpulse_bottlenecks.
type BottlenecksInput struct {
	Types []string `json:"types,omitempty" jsonschema:"optional list of bottleneck types to filter to"`
}

func handleBottlenecks(
	_ context.Context, _ *mcpsdk.CallToolRequest, in BottlenecksInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	types := make([]metrics.BottleneckType, 0, len(in.Types))
	for _, t := range in.Types {
		types = append(types, metrics.BottleneckType(t))
	}

	report, ferr := f.AnalyzeBottlenecks(facade.BottleneckOptions{Types: types})
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(report)
}

// MethodologyInput is the input schema for devpulse_methodology.
type MethodologyInput struct {
	Which string `json:"which,omitempty" jsonschema:"methodology filter: all, ddd, tdd, bdd, or eda"`
}

func handleMethodology(
	_ context.Context, _ *mcpsdk.CallToolRequest, in MethodologyInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	which := facade.MethodologyFilter(in.Which)
	if which == "" {
		which = facade.MethodologyAll
	}

	report, ferr := f.CheckMethodology(which)
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(report)
}

// StageInput is the input schema for devpulse_stage. Empty today;
// reserved for future filtering alongside facade.StageOptions.
type StageInput struct{}

func handleStage(
	_ context.Context, _ *mcpsdk.CallToolRequest, _ StageInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	report, ferr := f.AnalyzeStage(facade.StageOptions{})
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(report)
}

// AICollaborationInput is the input schema for devpulse_ai_collaboration.
type AICollaborationInput struct {
	Tool      string `json:"tool,omitempty"      jsonschema:"optional AI tool name to filter to (e.g. copilot, claude-code)"`
	TimeRange string `json:"timeRange,omitempty" jsonschema:"time window: 1h, 1d, 1w, or 1m (default 1d)"`
}

func handleAICollaboration(
	_ context.Context, _ *mcpsdk.CallToolRequest, in AICollaborationInput, f facade.Facade,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	report, ferr := f.AnalyzeAICollaboration(in.Tool, facade.TimeRange(in.TimeRange))
	if ferr != nil {
		return errorResult(ferr)
	}

	return jsonResult(report)
}
