package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	pmetrics "github.com/sumatoshi-tech/devpulse/pkg/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/queue"
)

// BottleneckType identifies which signal produced a Bottleneck.
type BottleneckType string

// Recognized bottleneck types.
const (
	BottleneckThreshold     BottleneckType = "threshold"
	BottleneckTrendAnomaly  BottleneckType = "trend_anomaly"
	BottleneckStuckStage    BottleneckType = "stuck_stage"
	BottleneckHotspot       BottleneckType = "hotspot"
	BottleneckQueueBacklog  BottleneckType = "queue_backlog"
	BottleneckSubscriberErr BottleneckType = "subscriber_error_rate"
)

// Bottleneck is one detected condition. Repeat detections of the same
// (Type, Subject) within the detector's cooldown window update an
// existing record's LastOccurredAt/Frequency rather than creating a
// new one.
type Bottleneck struct {
	Type            BottleneckType
	Subject         string // metric name, stage name, file path, or queue name
	Message         string
	Suggestion      string
	Severity        event.Severity
	FirstOccurredAt time.Time
	LastOccurredAt  time.Time
	Frequency       int
	Details         map[string]any
}

// Threshold bounds one metric's acceptable value range. A nil bound is
// unchecked.
type Threshold struct {
	Min *float64
	Max *float64
}

// StageStatus is the minimal stage-analyzer state the stuck-stage
// signal needs.
type StageStatus struct {
	Stage       string
	Progress    int // 0-100
	TimeInStage time.Duration
}

// Options configures a Detector.
type Options struct {
	AnalyzeInterval        time.Duration
	ZScoreWindow           int
	ZScoreThreshold        float64
	StuckStageCeiling      time.Duration
	HotspotThreshold       int
	HotspotWindow          time.Duration
	QueueBacklogThreshold  int
	SubscriberErrorPerHour int64
	Cooldown               time.Duration
	Thresholds             map[string]Threshold

	StageStatus func() StageStatus
	QueueStats  func() []queue.Stats

	Logger *slog.Logger
	now    func() time.Time
}

// Default tuning values.
const (
	DefaultAnalyzeInterval       = time.Minute
	DefaultZScoreWindow          = 20
	DefaultZScoreThreshold       = 2.5
	DefaultStuckStageCeiling     = 4 * time.Hour
	DefaultHotspotThreshold      = 5
	DefaultHotspotWindow         = time.Hour
	DefaultQueueBacklogThreshold = 1000
	DefaultCooldown              = 15 * time.Minute
)

// Detector evaluates the rolling series in a Collector (plus stage and
// queue state, via the injected accessors) for bottleneck signals.
type Detector struct {
	opts      Options
	collector *Collector
	registry  *pmetrics.Registry

	mu          sync.Mutex
	active      map[string]*Bottleneck // key: type+"|"+subject
	fileHourly  map[string]map[int64]int
	errorHourly map[int64]int64
}

// NewDetector constructs a Detector reading series from collector. Each
// configured threshold is registered as a pmetrics.Metric[float64,
// pmetrics.RiskResult] in a dedicated Registry, so threshold grading
// goes through the same Metric/Registry seam the rest of the analyzer
// package's metric definitions use.
func NewDetector(collector *Collector, opts Options) *Detector {
	if opts.AnalyzeInterval <= 0 {
		opts.AnalyzeInterval = DefaultAnalyzeInterval
	}
	if opts.ZScoreWindow <= 0 {
		opts.ZScoreWindow = DefaultZScoreWindow
	}
	if opts.ZScoreThreshold <= 0 {
		opts.ZScoreThreshold = DefaultZScoreThreshold
	}
	if opts.StuckStageCeiling <= 0 {
		opts.StuckStageCeiling = DefaultStuckStageCeiling
	}
	if opts.HotspotThreshold <= 0 {
		opts.HotspotThreshold = DefaultHotspotThreshold
	}
	if opts.HotspotWindow <= 0 {
		opts.HotspotWindow = DefaultHotspotWindow
	}
	if opts.QueueBacklogThreshold <= 0 {
		opts.QueueBacklogThreshold = DefaultQueueBacklogThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	registry := pmetrics.NewRegistry()
	for name, threshold := range opts.Thresholds {
		pmetrics.Register(registry, newThresholdMetric(name, threshold))
	}

	return &Detector{
		opts:        opts,
		collector:   collector,
		registry:    registry,
		active:      make(map[string]*Bottleneck),
		fileHourly:  make(map[string]map[int64]int),
		errorHourly: make(map[int64]int64),
	}
}

// Subscribe registers the detector on b for every event: file events
// feed the hotspot signal, and system events at error severity or above
// feed the subscriber-error rate. The handler does not run Check.
func (d *Detector) Subscribe(b *bus.Bus) string {
	return b.Subscribe("*", func(_ context.Context, e *event.Event) {
		now := d.opts.now()
		if e.Category == event.CategoryFile {
			if data, ok := e.Data.(*event.FilePayload); ok && data.NewPath != "" {
				d.recordFileTouch(data.NewPath, now)
			}
		}
		if e.Category == event.CategorySystem && e.Severity.AtLeast(event.SeverityError) {
			d.recordSubscriberError(now)
		}
	}, bus.SubscribeOptions{})
}

func (d *Detector) recordFileTouch(path string, now time.Time) {
	hour := now.Unix() / int64(time.Hour/time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	buckets, ok := d.fileHourly[path]
	if !ok {
		buckets = make(map[int64]int)
		d.fileHourly[path] = buckets
	}
	buckets[hour]++

	cutoff := now.Add(-d.opts.HotspotWindow).Unix() / int64(time.Hour/time.Second)
	for h := range buckets {
		if h < cutoff {
			delete(buckets, h)
		}
	}
}

func (d *Detector) recordSubscriberError(now time.Time) {
	hour := now.Unix() / int64(time.Hour/time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.errorHourly[hour]++

	cutoff := now.Add(-time.Hour).Unix() / int64(time.Hour/time.Second)
	for h := range d.errorHourly {
		if h < cutoff {
			delete(d.errorHourly, h)
		}
	}
}

// Check runs every configured signal once and returns the current set
// of active bottlenecks (new and previously-seen-within-cooldown).
func (d *Detector) Check() []Bottleneck {
	now := d.opts.now()

	d.checkThresholds(now)
	d.checkTrendAnomalies(now)
	d.checkStuckStage(now)
	d.checkHotspots(now)
	d.checkQueueBacklog(now)
	d.checkSubscriberErrorRate(now)

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Bottleneck, 0, len(d.active))
	for _, b := range d.active {
		out = append(out, *b)
	}
	return out
}

func (d *Detector) checkThresholds(now time.Time) {
	for _, name := range d.registry.Names() {
		s := d.collector.Series(name)
		if s == nil || s.Count == 0 {
			continue
		}

		m, ok := d.registry.Get(name)
		if !ok {
			continue
		}
		metric, ok := m.(*thresholdMetric)
		if !ok {
			continue
		}

		result := metric.Compute(s.Latest)
		if result.Level == pmetrics.RiskLow {
			continue
		}

		d.raise(BottleneckThreshold, name, now, riskSeverity(result.Level), result.Message,
			map[string]any{"value": s.Latest, "threshold": result.Threshold, "level": string(result.Level)})
	}
}

func (d *Detector) checkTrendAnomalies(now time.Time) {
	for name, s := range d.collector.All() {
		values := s.Values()
		if len(values) < 2 {
			continue
		}
		z := computeZScore(values, d.opts.ZScoreWindow)
		if z > d.opts.ZScoreThreshold || z < -d.opts.ZScoreThreshold {
			d.raise(BottleneckTrendAnomaly, name, now, event.SeverityWarning,
				fmt.Sprintf("%s deviates %.1f standard deviations from its recent baseline", name, z),
				map[string]any{"zscore": z})
		}
	}
}

func (d *Detector) checkStuckStage(now time.Time) {
	if d.opts.StageStatus == nil {
		return
	}
	st := d.opts.StageStatus()
	if st.Stage == "" || st.Progress >= 100 {
		return
	}
	if st.TimeInStage >= d.opts.StuckStageCeiling {
		d.raise(BottleneckStuckStage, st.Stage, now, event.SeverityNotice,
			fmt.Sprintf("stage %q has been active for %s with progress stalled at %d%%", st.Stage, st.TimeInStage.Round(time.Minute), st.Progress),
			map[string]any{"timeInStage": st.TimeInStage.String(), "progress": st.Progress})
	}
}

func (d *Detector) checkHotspots(now time.Time) {
	cutoff := now.Add(-d.opts.HotspotWindow).Unix() / int64(time.Hour/time.Second)

	d.mu.Lock()
	candidates := make(map[string]int)
	for path, buckets := range d.fileHourly {
		var total int
		for h, c := range buckets {
			if h >= cutoff {
				total += c
			}
		}
		if total >= d.opts.HotspotThreshold {
			candidates[path] = total
		}
	}
	d.mu.Unlock()

	for path, count := range candidates {
		d.raise(BottleneckHotspot, path, now, event.SeverityNotice,
			fmt.Sprintf("%s was modified %d times in the last %s", path, count, d.opts.HotspotWindow),
			map[string]any{"count": count})
	}
}

func (d *Detector) checkQueueBacklog(now time.Time) {
	if d.opts.QueueStats == nil {
		return
	}
	for _, qs := range d.opts.QueueStats() {
		if qs.Pending >= d.opts.QueueBacklogThreshold {
			d.raise(BottleneckQueueBacklog, qs.Name, now, event.SeverityWarning,
				fmt.Sprintf("queue %q has %d pending entries", qs.Name, qs.Pending),
				map[string]any{"pending": qs.Pending, "processing": qs.Processing})
		}
	}
}

func (d *Detector) checkSubscriberErrorRate(now time.Time) {
	if d.opts.SubscriberErrorPerHour <= 0 {
		return
	}

	d.mu.Lock()
	var total int64
	for _, c := range d.errorHourly {
		total += c
	}
	d.mu.Unlock()

	if total >= d.opts.SubscriberErrorPerHour {
		d.raise(BottleneckSubscriberErr, "bus", now, event.SeverityError,
			fmt.Sprintf("%d subscriber errors in the last hour", total),
			map[string]any{"count": total})
	}
}

func (d *Detector) raise(t BottleneckType, subject string, now time.Time, sev event.Severity, message string, details map[string]any) {
	key := string(t) + "|" + subject

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.active[key]; ok && now.Sub(existing.LastOccurredAt) < d.opts.Cooldown {
		existing.LastOccurredAt = now
		existing.Frequency++
		existing.Message = message
		existing.Details = details
		return
	}

	d.active[key] = &Bottleneck{
		Type:            t,
		Subject:         subject,
		Message:         message,
		Suggestion:      suggestionFor(t),
		Severity:        sev,
		FirstOccurredAt: now,
		LastOccurredAt:  now,
		Frequency:       1,
		Details:         details,
	}
}

// suggestionFor looks up a static remediation suggestion by type.
func suggestionFor(t BottleneckType) string {
	return suggestions[t]
}

var suggestions = map[BottleneckType]string{
	BottleneckThreshold:     "Review the metric's recent history and confirm whether the configured bound still fits.",
	BottleneckTrendAnomaly:  "Investigate recent changes around this metric; the deviation may trace to a specific commit or run.",
	BottleneckStuckStage:    "Check for blockers keeping this stage from progressing; consider breaking the remaining work down further.",
	BottleneckHotspot:       "This file is being churned heavily; consider whether it needs refactoring or a design review.",
	BottleneckQueueBacklog:  "Increase queue worker throughput or investigate why downstream processing has slowed.",
	BottleneckSubscriberErr: "Inspect subscriber logs for the failing handler; a panicking subscriber should be fixed or isolated.",
}
