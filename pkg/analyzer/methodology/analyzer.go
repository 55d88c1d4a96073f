package methodology

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Default tuning values, overridable via Options.
const (
	DefaultTDDCoOccurrenceWindow = 30 * time.Minute
	DefaultTrendRetention        = 24 * time.Hour
)

// TDD evidence weights. A full red -> green -> refactor cycle (all
// three signals within the co-occurrence window) scores highest; each
// signal alone still contributes partial evidence.
const (
	tddCoOccurrenceWeight = 2.0 // test file touched, then matching source file touched
	tddRedGreenWeight     = 1.5 // a failed test run followed by a passing one
	tddRefactorWeight     = 1.0 // a refactor-typed commit following red->green
	gherkinFileBonus      = 2.0
)

// Options configures an Analyzer.
type Options struct {
	TDDCoOccurrenceWindow time.Duration
	TrendRetention        time.Duration
	Logger                *slog.Logger

	now func() time.Time
}

// Analyzer accumulates methodology evidence from the event stream and
// produces a Snapshot on demand.
type Analyzer struct {
	opts Options

	mu                sync.Mutex
	evidence          map[Methodology]float64
	testTouch         map[string]time.Time // stem -> last test-file touch
	lastTestStatus    event.RunStatus
	lastTestStatusAt  time.Time
	pendingRedGreenAt time.Time
	hourly            map[Methodology]map[int64]int
}

// New constructs an Analyzer.
func New(opts Options) *Analyzer {
	if opts.TDDCoOccurrenceWindow <= 0 {
		opts.TDDCoOccurrenceWindow = DefaultTDDCoOccurrenceWindow
	}
	if opts.TrendRetention <= 0 {
		opts.TrendRetention = DefaultTrendRetention
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	hourly := make(map[Methodology]map[int64]int, len(All))
	for _, m := range All {
		hourly[m] = make(map[int64]int)
	}

	return &Analyzer{
		opts:      opts,
		evidence:  make(map[Methodology]float64, len(All)),
		testTouch: make(map[string]time.Time),
		hourly:    hourly,
	}
}

// Subscribe registers the analyzer on b for the categories it scores:
// file, git, test, and ai.
func (a *Analyzer) Subscribe(b *bus.Bus) string {
	return b.Subscribe("*", func(_ context.Context, e *event.Event) {
		a.Ingest(e)
	}, bus.SubscribeOptions{
		Filter: &bus.Filter{
			Categories: []event.Category{
				event.CategoryFile, event.CategoryGit, event.CategoryTest, event.CategoryAI,
			},
		},
	})
}

// Ingest scores e against the four methodologies' rule sets.
func (a *Analyzer) Ingest(e *event.Event) {
	now := a.opts.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	switch data := e.Data.(type) {
	case *event.FilePayload:
		a.ingestFileLocked(now, data)
	case *event.GitPayload:
		a.ingestGitLocked(now, data)
	case *event.RunPayload:
		a.ingestRunLocked(now, data)
	case *event.AIPayload:
		a.scoreTextLocked(now, data.CodeBlock)
	}
}

func (a *Analyzer) ingestFileLocked(now time.Time, f *event.FilePayload) {
	path := f.NewPath
	if path == "" {
		path = f.OldPath
	}

	a.scoreTextLocked(now, path)
	if gherkinFileRE.MatchString(path) {
		a.addEvidenceLocked(BDD, gherkinFileBonus, now)
	}

	stem := stemOf(path)
	if stem == "" {
		return
	}

	if f.ContextTag == event.ContextTagTest {
		a.testTouch[stem] = now
		return
	}

	if f.ContextTag == event.ContextTagSource && f.Action == event.FileActionModify {
		touched, ok := a.testTouch[stem]
		if ok && !touched.After(now) && now.Sub(touched) <= a.opts.TDDCoOccurrenceWindow {
			a.addEvidenceLocked(TDD, tddCoOccurrenceWeight, now)
			delete(a.testTouch, stem)
		}
	}
}

func (a *Analyzer) ingestGitLocked(now time.Time, g *event.GitPayload) {
	a.scoreTextLocked(now, g.Message)

	if g.Analysis == nil || g.Analysis.ConventionalType != "refactor" {
		return
	}
	if !a.pendingRedGreenAt.IsZero() && now.Sub(a.pendingRedGreenAt) <= a.opts.TDDCoOccurrenceWindow {
		a.addEvidenceLocked(TDD, tddRefactorWeight, now)
		a.pendingRedGreenAt = time.Time{}
	}
}

func (a *Analyzer) ingestRunLocked(now time.Time, r *event.RunPayload) {
	passed := r.Status == event.RunStatusPassed || r.Status == event.RunStatusSuccess

	if passed && a.lastTestStatus == event.RunStatusFailed && now.Sub(a.lastTestStatusAt) <= a.opts.TDDCoOccurrenceWindow {
		a.addEvidenceLocked(TDD, tddRedGreenWeight, now)
		a.pendingRedGreenAt = now
	}

	a.lastTestStatus = r.Status
	a.lastTestStatusAt = now
}

func (a *Analyzer) scoreTextLocked(now time.Time, text string) {
	if text == "" {
		return
	}
	if ev := scoreTokens(dddRules, text); ev > 0 {
		a.addEvidenceLocked(DDD, ev, now)
	}
	if ev := scoreTokens(bddRules, text); ev > 0 {
		a.addEvidenceLocked(BDD, ev, now)
	}
	if ev := scoreTokens(edaRules, text); ev > 0 {
		a.addEvidenceLocked(EDA, ev, now)
	}
}

func (a *Analyzer) addEvidenceLocked(m Methodology, v float64, now time.Time) {
	a.evidence[m] += v
	a.bumpHourlyLocked(m, now)
}

func (a *Analyzer) bumpHourlyLocked(m Methodology, now time.Time) {
	hour := now.Unix() / int64(time.Hour/time.Second)
	if a.hourly[m] == nil {
		a.hourly[m] = make(map[int64]int)
	}
	a.hourly[m][hour]++
	a.pruneHourlyLocked(m, now)
}

func (a *Analyzer) pruneHourlyLocked(m Methodology, now time.Time) {
	cutoff := now.Add(-a.opts.TrendRetention).Unix() / int64(time.Hour/time.Second)
	for hour := range a.hourly[m] {
		if hour < cutoff {
			delete(a.hourly[m], hour)
		}
	}
}

// stemOf reduces a path to a lowercase comparison key, stripping common
// test-file markers so "foo.go" and "foo_test.go" correlate.
func stemOf(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.TrimSuffix(name, "_test")
	name = strings.TrimSuffix(name, ".test")
	name = strings.TrimPrefix(name, "test_")
	return strings.ToLower(name)
}

// Snapshot computes the current methodology assessment: independent
// 0-100 scores, narrative strengths/weaknesses/recommendations, an
// overall mean across methodologies with any evidence, a dominant
// methodology when one leads by dominanceMargin or more, and per-hour
// usage trends over the retained window.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.opts.now()

	scores := make(map[Methodology]Score, len(All))
	var sum float64
	var present int
	best := Methodology("")
	var bestVal, secondVal float64

	for _, m := range All {
		value := toScore(a.evidence[m])
		strengths, weaknesses, recommendations := narrative(m, value)
		scores[m] = Score{
			Value:           value,
			Strengths:       strengths,
			Weaknesses:      weaknesses,
			Recommendations: recommendations,
			Details:         map[string]any{"rawEvidence": a.evidence[m]},
		}

		if value > 0 {
			sum += value
			present++
		}
		if value > bestVal {
			secondVal = bestVal
			best, bestVal = m, value
		} else if value > secondVal {
			secondVal = value
		}
	}

	var overall float64
	if present > 0 {
		overall = sum / float64(present)
	}

	dominant := Methodology("")
	if best != "" && bestVal-secondVal >= dominanceMargin {
		dominant = best
	}

	trends := make(map[Methodology]Trend, len(All))
	for _, m := range All {
		trends[m] = a.trendLocked(m, now)
	}

	return Snapshot{
		Scores:      scores,
		Overall:     overall,
		Dominant:    dominant,
		Trends:      trends,
		GeneratedAt: now,
	}
}

func (a *Analyzer) trendLocked(m Methodology, now time.Time) Trend {
	secondsPerHour := int64(time.Hour / time.Second)
	nowHour := now.Unix() / secondsPerHour
	retentionHours := int64(a.opts.TrendRetention / time.Hour)
	if retentionHours < 2 {
		retentionHours = 2
	}
	oldestHour := nowHour - retentionHours
	midHour := oldestHour + retentionHours/2

	var first, second int
	for hour, count := range a.hourly[m] {
		if hour < oldestHour {
			continue
		}
		if hour < midHour {
			first += count
		} else {
			second += count
		}
	}

	growth := 0.0
	switch {
	case first == 0 && second > 0:
		growth = 100
	case first > 0:
		growth = float64(second-first) / float64(first) * 100
	}

	return Trend{FirstHalfHits: first, SecondHalfHits: second, GrowthPercent: growth}
}
