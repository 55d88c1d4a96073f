package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/aiusage"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/methodology"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/stage"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/queue"
	"github.com/sumatoshi-tech/devpulse/pkg/store"
)

// timeRangeWindow maps a TimeRange to a lookback duration.
func timeRangeWindow(r TimeRange) time.Duration {
	switch r {
	case TimeRangeHour:
		return time.Hour
	case TimeRangeWeek:
		return 7 * 24 * time.Hour
	case TimeRangeMonth:
		return 30 * 24 * time.Hour
	case TimeRangeDay, "":
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Deps wires an Impl to the rest of the running system. Every field is
// optional; a nil dependency makes its corresponding facade fields
// empty/zero rather than erroring (a nil Store yields an empty activity
// log), so a facade can be constructed even before every analyzer is
// wired up.
type Deps struct {
	Store               *store.Store
	StageAnalyzer       *stage.Analyzer
	MethodologyAnalyzer *methodology.Analyzer
	AIUsageAnalyzer     *aiusage.Analyzer
	MetricsCollector    *metrics.Collector
	BottleneckDetector  *metrics.Detector
	QueueManager        *queue.Manager
	MonitorStatus       func() map[string]MonitorStatus
	Milestones          func() []string

	now func() time.Time
}

// Impl is the concrete Facade backed by the running system's
// analyzers, store, queue manager, and monitors.
type Impl struct {
	deps Deps
}

// New constructs an Impl.
func New(deps Deps) *Impl {
	if deps.now == nil {
		deps.now = time.Now
	}
	return &Impl{deps: deps}
}

var _ Facade = (*Impl)(nil)

// GetProjectStatus implements Facade.
func (f *Impl) GetProjectStatus(includeDetails bool) (*ProjectStatus, *Error) {
	out := &ProjectStatus{
		MethodologyScores: make(map[string]float64),
		MonitorsStatus:    make(map[string]MonitorStatus),
	}

	if f.deps.StageAnalyzer != nil {
		res := f.deps.StageAnalyzer.Analyze()
		out.CurrentStage = string(res.CurrentStage)
		out.Confidence = res.Confidence
		for _, sub := range res.ActiveSubStages {
			out.ActiveSubStages = append(out.ActiveSubStages, string(sub))
		}
	}

	if f.deps.MethodologyAnalyzer != nil {
		snap := f.deps.MethodologyAnalyzer.Snapshot()
		for m, score := range snap.Scores {
			out.MethodologyScores[string(m)] = score.Value
		}
	}

	if f.deps.Milestones != nil {
		out.Milestones = f.deps.Milestones()
	}
	if f.deps.MonitorStatus != nil {
		out.MonitorsStatus = f.deps.MonitorStatus()
	}
	if f.deps.QueueManager != nil {
		out.QueueStats = f.deps.QueueManager.Stats()
	}

	if includeDetails && f.deps.Store != nil {
		activity, err := f.recentActivity(20)
		if err != nil {
			return nil, err
		}
		out.RecentActivity = activity
	}

	return out, nil
}

// GetMetrics implements Facade.
func (f *Impl) GetMetrics(timeRange TimeRange, kind MetricKind) (*MetricsReport, *Error) {
	if !timeRange.valid() {
		return nil, invalidArgument(fmt.Sprintf("unrecognized timeRange %q", timeRange))
	}
	if timeRange == "" {
		timeRange = TimeRangeDay
	}

	report := &MetricsReport{
		Period:     string(timeRange),
		Aggregates: make(map[string]SeriesSummary),
		Trends:     make(map[string]float64),
	}

	if f.deps.MetricsCollector == nil {
		return report, nil
	}

	for name, s := range f.deps.MetricsCollector.All() {
		if kind != "" && kind != MetricKindAll && !seriesMatchesKind(name, kind) {
			continue
		}
		report.Aggregates[name] = SeriesSummary{Min: s.Min, Max: s.Max, Mean: s.Mean, Latest: s.Latest, Count: s.Count}
	}

	if f.deps.BottleneckDetector != nil {
		for _, b := range f.deps.BottleneckDetector.Check() {
			report.Recommendations = append(report.Recommendations, b.Suggestion)
		}
	}

	return report, nil
}

func seriesMatchesKind(name string, kind MetricKind) bool {
	switch kind {
	case MetricKindCommit:
		return containsSubstr(name, "commit")
	case MetricKindFiles:
		return containsSubstr(name, "file")
	case MetricKindTests:
		return containsSubstr(name, "test")
	case MetricKindBuilds:
		return containsSubstr(name, "build")
	default:
		return true
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// GetActivityLog implements Facade.
func (f *Impl) GetActivityLog(limit int, kind string) (*ActivityLog, *Error) {
	if limit <= 0 {
		limit = 50
	}
	if f.deps.Store == nil {
		return &ActivityLog{Summary: ActivitySummary{ByCategory: map[string]int{}, BySeverity: map[string]int{}}}, nil
	}

	var filter *store.TimeRangeFilter
	if kind != "" {
		filter = &store.TimeRangeFilter{Category: event.Category(kind)}
	}

	now := f.deps.now()
	events, err := f.deps.Store.FindByTimeRange(context.Background(), 0, now.UnixMilli(), filter)
	if err != nil {
		return nil, internalError(err.Error())
	}

	// FindByTimeRange returns ascending; the activity log wants the
	// most recent entries, so take the tail rather than push limit
	// into the query (which would select the oldest matches instead).
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	activities := make([]ActivityEntry, 0, len(events))
	byCategory := make(map[string]int)
	bySeverity := make(map[string]int)
	var oldest, newest time.Time

	for _, e := range events {
		at := time.UnixMilli(e.Timestamp)
		activities = append(activities, ActivityEntry{
			At:       at,
			Category: string(e.Category),
			Severity: string(e.Severity),
			Summary:  summarize(e),
		})
		byCategory[string(e.Category)]++
		bySeverity[string(e.Severity)]++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
		if at.After(newest) {
			newest = at
		}
	}

	var rate float64
	if !oldest.IsZero() && newest.After(oldest) {
		hours := newest.Sub(oldest).Hours()
		if hours > 0 {
			rate = float64(len(activities)) / hours
		}
	}

	return &ActivityLog{
		Activities: activities,
		Summary: ActivitySummary{
			ByCategory:   byCategory,
			BySeverity:   bySeverity,
			ActivityRate: rate,
		},
	}, nil
}

func (f *Impl) recentActivity(limit int) ([]ActivityEntry, *Error) {
	log, err := f.GetActivityLog(limit, "")
	if err != nil {
		return nil, err
	}
	return log.Activities, nil
}

// summarize renders a human-readable one-line description of e,
// mirroring the phrasing the git/file monitors already use in their
// own logging.
func summarize(e *event.Event) string {
	switch data := e.Data.(type) {
	case *event.GitPayload:
		if data.Analysis != nil && data.Analysis.ConventionalType != "" {
			return fmt.Sprintf("Git commit: %s", data.Message)
		}
		return fmt.Sprintf("Git %s: %s", data.Action, data.Message)
	case *event.FilePayload:
		return fmt.Sprintf("File %s: %s", data.Action, data.NewPath)
	case *event.RunPayload:
		return fmt.Sprintf("%s %s: %s", e.Category, data.Target, data.Status)
	case *event.AIPayload:
		return fmt.Sprintf("AI %s via %s", data.InteractionType, data.Tool)
	default:
		return e.Type
	}
}

// AnalyzeBottlenecks implements Facade.
func (f *Impl) AnalyzeBottlenecks(opts BottleneckOptions) (*BottleneckReport, *Error) {
	report := &BottleneckReport{Summary: make(map[string]int)}
	if f.deps.BottleneckDetector == nil {
		return report, nil
	}

	allowed := make(map[metrics.BottleneckType]bool, len(opts.Types))
	for _, t := range opts.Types {
		allowed[t] = true
	}

	for _, b := range f.deps.BottleneckDetector.Check() {
		if len(allowed) > 0 && !allowed[b.Type] {
			continue
		}
		report.Bottlenecks = append(report.Bottlenecks, b)
		report.Summary[string(b.Severity)]++
		if b.Suggestion != "" {
			report.Recommendations = append(report.Recommendations, b.Suggestion)
		}
	}

	return report, nil
}

// CheckMethodology implements Facade.
func (f *Impl) CheckMethodology(which MethodologyFilter) (*MethodologyReport, *Error) {
	if which == "" {
		which = MethodologyAll
	}
	report := &MethodologyReport{Scores: make(map[string]MethodologyScore)}
	if f.deps.MethodologyAnalyzer == nil {
		return report, nil
	}

	snap := f.deps.MethodologyAnalyzer.Snapshot()
	report.Overall = snap.Overall
	report.Dominant = string(snap.Dominant)

	for m, score := range snap.Scores {
		if which != MethodologyAll && string(which) != string(m) {
			continue
		}
		trend := snap.Trends[m]
		report.Scores[string(m)] = MethodologyScore{
			Value:           score.Value,
			Strengths:       score.Strengths,
			Weaknesses:      score.Weaknesses,
			Recommendations: score.Recommendations,
			Trend: TrendSummary{
				FirstHalfHits:  trend.FirstHalfHits,
				SecondHalfHits: trend.SecondHalfHits,
				GrowthPercent:  trend.GrowthPercent,
			},
		}
	}

	return report, nil
}

// AnalyzeStage implements Facade.
func (f *Impl) AnalyzeStage(_ StageOptions) (*StageReport, *Error) {
	if f.deps.StageAnalyzer == nil {
		return &StageReport{StageProgress: map[string]int{}, TimeSpent: map[string]string{}}, nil
	}

	res := f.deps.StageAnalyzer.Analyze()

	subs := make([]string, 0, len(res.ActiveSubStages))
	for _, s := range res.ActiveSubStages {
		subs = append(subs, string(s))
	}

	progress := make(map[string]int, len(res.StageProgress))
	for st, v := range res.StageProgress {
		progress[string(st)] = v
	}

	timeSpent := make(map[string]string, len(res.TimeSpent))
	for st, d := range res.TimeSpent {
		timeSpent[string(st)] = d.String()
	}

	return &StageReport{
		CurrentStage:  string(res.CurrentStage),
		Confidence:    res.Confidence,
		SubStages:     subs,
		StageProgress: progress,
		Transitions:   res.Transitions,
		TimeSpent:     timeSpent,
		Suggestions:   res.Suggestions,
	}, nil
}

// AnalyzeAICollaboration implements Facade.
func (f *Impl) AnalyzeAICollaboration(tool string, _ TimeRange) (*AICollaborationReport, *Error) {
	report := &AICollaborationReport{Tools: make(map[string]aiusage.ToolStats)}
	if f.deps.AIUsageAnalyzer == nil {
		return report, nil
	}

	snap := f.deps.AIUsageAnalyzer.Snapshot()
	report.PeakHours = snap.PeakHours
	for t, stats := range snap.Tools {
		if tool != "" && tool != t {
			continue
		}
		report.Tools[t] = stats
	}

	return report, nil
}
