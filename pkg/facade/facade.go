// Package facade exposes devpulse's derived state as a stable,
// synchronous, read-only query surface — the one package the external
// JSON-RPC dispatcher and the cmd/devpulse mcp adapter import from the
// core. Every operation returns plain JSON-taggable structs or a
// structured error; none of them mutate state.
package facade

// ErrorKind categorizes a facade error for machine-readable dispatch.
type ErrorKind string

// Recognized error kinds.
const (
	ErrKindInvalidArgument ErrorKind = "invalid_argument"
	ErrKindNotFound        ErrorKind = "not_found"
	ErrKindInternal        ErrorKind = "internal"
)

// Error is the facade's structured failure shape: {error:{kind,message}}.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func invalidArgument(msg string) *Error { return &Error{Kind: ErrKindInvalidArgument, Message: msg} }
func internalError(msg string) *Error   { return &Error{Kind: ErrKindInternal, Message: msg} }

// TimeRange is the coarse window getMetrics/analyzeAICollaboration
// accept.
type TimeRange string

// Recognized time ranges.
const (
	TimeRangeHour  TimeRange = "1h"
	TimeRangeDay   TimeRange = "1d"
	TimeRangeWeek  TimeRange = "1w"
	TimeRangeMonth TimeRange = "1m"
)

func (r TimeRange) valid() bool {
	switch r {
	case TimeRangeHour, TimeRangeDay, TimeRangeWeek, TimeRangeMonth, "":
		return true
	default:
		return false
	}
}

// MetricKind narrows getMetrics to one activity kind.
type MetricKind string

// Recognized metric kinds.
const (
	MetricKindAll    MetricKind = "all"
	MetricKindCommit MetricKind = "commits"
	MetricKindFiles  MetricKind = "files"
	MetricKindTests  MetricKind = "tests"
	MetricKindBuilds MetricKind = "builds"
)

// MethodologyFilter narrows checkMethodology to one methodology.
type MethodologyFilter string

// Recognized methodology filters.
const (
	MethodologyAll MethodologyFilter = "all"
	MethodologyDDD MethodologyFilter = "ddd"
	MethodologyTDD MethodologyFilter = "tdd"
	MethodologyBDD MethodologyFilter = "bdd"
	MethodologyEDA MethodologyFilter = "eda"
)

// Facade is the tool-facade contract: one method per spec.md §4.K
// operation.
type Facade interface {
	GetProjectStatus(includeDetails bool) (*ProjectStatus, *Error)
	GetMetrics(timeRange TimeRange, kind MetricKind) (*MetricsReport, *Error)
	GetActivityLog(limit int, kind string) (*ActivityLog, *Error)
	AnalyzeBottlenecks(opts BottleneckOptions) (*BottleneckReport, *Error)
	CheckMethodology(which MethodologyFilter) (*MethodologyReport, *Error)
	AnalyzeStage(opts StageOptions) (*StageReport, *Error)
	AnalyzeAICollaboration(tool string, timeRange TimeRange) (*AICollaborationReport, *Error)
}
