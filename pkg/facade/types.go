package facade

import (
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/aiusage"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/stage"
	"github.com/sumatoshi-tech/devpulse/pkg/queue"
)

// MonitorStatus is one monitor's liveness as reported by getProjectStatus.
type MonitorStatus struct {
	Running     bool       `json:"running"`
	LastEventAt *time.Time `json:"lastEventAt,omitempty"`
}

// ProjectStatus is getProjectStatus's return shape.
type ProjectStatus struct {
	CurrentStage      string                   `json:"currentStage"`
	Confidence        float64                  `json:"confidence"`
	ActiveSubStages   []string                 `json:"activeSubStages"`
	MethodologyScores map[string]float64       `json:"methodologyScores"`
	Milestones        []string                 `json:"milestones"`
	MonitorsStatus    map[string]MonitorStatus `json:"monitorsStatus"`
	QueueStats        []queue.Stats            `json:"queueStats"`
	RecentActivity    []ActivityEntry          `json:"recentActivity,omitempty"`
}

// SeriesSummary mirrors metrics.Series' summary fields for wire export.
type SeriesSummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Latest float64 `json:"latest"`
	Count  int     `json:"count"`
}

// MetricsReport is getMetrics' return shape.
type MetricsReport struct {
	Period          string                   `json:"period"`
	Aggregates      map[string]SeriesSummary `json:"aggregates"`
	Trends          map[string]float64       `json:"trends"`
	Recommendations []string                 `json:"recommendations"`
}

// ActivityEntry is one summarized row in getActivityLog.
type ActivityEntry struct {
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Severity string    `json:"severity"`
	Summary  string    `json:"summary"`
}

// ActivitySummary aggregates an ActivityLog's entries.
type ActivitySummary struct {
	ByCategory   map[string]int `json:"byCategory"`
	BySeverity   map[string]int `json:"bySeverity"`
	ActivityRate float64        `json:"activityRate"` // entries per hour between the oldest and newest returned entry
}

// ActivityLog is getActivityLog's return shape.
type ActivityLog struct {
	Activities []ActivityEntry `json:"activities"`
	Summary    ActivitySummary `json:"summary"`
}

// BottleneckOptions configures analyzeBottlenecks. The zero value runs
// every signal with the detector's configured defaults.
type BottleneckOptions struct {
	Types []metrics.BottleneckType `json:"types,omitempty"`
}

// BottleneckReport is analyzeBottlenecks' return shape.
type BottleneckReport struct {
	Bottlenecks     []metrics.Bottleneck `json:"bottlenecks"`
	Summary         map[string]int       `json:"summary"` // severity -> count
	Recommendations []string             `json:"recommendations"`
}

// MethodologyReport is checkMethodology's return shape.
type MethodologyReport struct {
	Scores   map[string]MethodologyScore `json:"scores"`
	Overall  float64                     `json:"overall"`
	Dominant string                      `json:"dominant,omitempty"`
}

// MethodologyScore flattens methodology.Score with a JSON-stable shape.
type MethodologyScore struct {
	Value           float64      `json:"value"`
	Strengths       []string     `json:"strengths,omitempty"`
	Weaknesses      []string     `json:"weaknesses,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
	Trend           TrendSummary `json:"trend"`
}

// TrendSummary flattens methodology.Trend.
type TrendSummary struct {
	FirstHalfHits  int     `json:"firstHalfHits"`
	SecondHalfHits int     `json:"secondHalfHits"`
	GrowthPercent  float64 `json:"growthPercent"`
}

// StageOptions configures analyzeStage. Reserved for future filtering;
// empty today.
type StageOptions struct{}

// StageReport is analyzeStage's return shape, sourced directly from
// stage.Analyzer.Analyze.
type StageReport struct {
	CurrentStage  string             `json:"currentStage"`
	Confidence    float64            `json:"confidence"`
	SubStages     []string           `json:"subStages"`
	StageProgress map[string]int     `json:"stageProgress"`
	Transitions   []stage.Transition `json:"transitions"`
	TimeSpent     map[string]string  `json:"timeSpent"` // stage -> duration string
	Suggestions   []string           `json:"suggestions,omitempty"`
}

// AICollaborationReport is analyzeAICollaboration's return shape.
type AICollaborationReport struct {
	Tools     map[string]aiusage.ToolStats `json:"tools"`
	PeakHours []int                        `json:"peakHours"`
}
