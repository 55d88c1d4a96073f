package mcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/facade"
	"github.com/sumatoshi-tech/devpulse/pkg/mcp"
)

type fakeFacade struct{}

func (fakeFacade) GetProjectStatus(_ bool) (*facade.ProjectStatus, *facade.Error) {
	return &facade.ProjectStatus{CurrentStage: "implementation"}, nil
}

func (fakeFacade) GetMetrics(_ facade.TimeRange, _ facade.MetricKind) (*facade.MetricsReport, *facade.Error) {
	return &facade.MetricsReport{Period: "1d"}, nil
}

func (fakeFacade) GetActivityLog(_ int, _ string) (*facade.ActivityLog, *facade.Error) {
	return &facade.ActivityLog{}, nil
}

func (fakeFacade) AnalyzeBottlenecks(_ facade.BottleneckOptions) (*facade.BottleneckReport, *facade.Error) {
	return &facade.BottleneckReport{}, nil
}

func (fakeFacade) CheckMethodology(_ facade.MethodologyFilter) (*facade.MethodologyReport, *facade.Error) {
	return &facade.MethodologyReport{}, nil
}

func (fakeFacade) AnalyzeStage(_ facade.StageOptions) (*facade.StageReport, *facade.Error) {
	return &facade.StageReport{}, nil
}

func (fakeFacade) AnalyzeAICollaboration(_ string, _ facade.TimeRange) (*facade.AICollaborationReport, *facade.Error) {
	return &facade.AICollaborationReport{}, nil
}

var _ facade.Facade = fakeFacade{}

func TestNewServer_RegistersAllTools(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer(mcp.ServerDeps{Facade: fakeFacade{}})
	names := srv.ListToolNames()

	require.Len(t, names, 7)
	assert.Contains(t, names, mcp.ToolNameProjectStatus)
	assert.Contains(t, names, mcp.ToolNameMetrics)
	assert.Contains(t, names, mcp.ToolNameActivityLog)
	assert.Contains(t, names, mcp.ToolNameBottlenecks)
	assert.Contains(t, names, mcp.ToolNameMethodology)
	assert.Contains(t, names, mcp.ToolNameStage)
	assert.Contains(t, names, mcp.ToolNameAICollaboration)
}
