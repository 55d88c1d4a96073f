package aiusage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// DefaultSessionGap is the idle gap after which the next interaction
// with a tool starts a new session rather than extending the current
// one.
const DefaultSessionGap = 15 * time.Minute

// peakHourCount bounds how many hours Snapshot reports in PeakHours.
const peakHourCount = 3

// Options configures an Analyzer.
type Options struct {
	SessionGap time.Duration
	Estimator  Estimator
	Logger     *slog.Logger

	now func() time.Time
}

type toolState struct {
	sessions          []Session
	current           *Session
	lastAt            time.Time
	interactions      int
	suggestions       int
	accepted          int
	rejected          int
	modified          int
	linesAcceptedSum  int
	minutesSaved      float64
	interactionCounts map[event.InteractionType]int
	elapsedSumMs      int64
	elapsedCount      int
}

// Analyzer tracks per-tool AI-assistant session state from the event
// stream.
type Analyzer struct {
	opts Options

	mu        sync.Mutex
	tools     map[string]*toolState
	hourCount map[int]int
}

// New constructs an Analyzer.
func New(opts Options) *Analyzer {
	if opts.SessionGap <= 0 {
		opts.SessionGap = DefaultSessionGap
	}
	if opts.Estimator == nil {
		opts.Estimator = DefaultEstimator
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	return &Analyzer{
		opts:      opts,
		tools:     make(map[string]*toolState),
		hourCount: make(map[int]int),
	}
}

// Subscribe registers the analyzer on b for CategoryAI events.
func (a *Analyzer) Subscribe(b *bus.Bus) string {
	return b.Subscribe("*", func(_ context.Context, e *event.Event) {
		a.Ingest(e)
	}, bus.SubscribeOptions{
		Filter: &bus.Filter{Categories: []event.Category{event.CategoryAI}},
	})
}

// Ingest folds one AI interaction event into per-tool session state.
func (a *Analyzer) Ingest(e *event.Event) {
	data, ok := e.Data.(*event.AIPayload)
	if !ok || data.Tool == "" {
		return
	}

	now := a.opts.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	ts, ok := a.tools[data.Tool]
	if !ok {
		ts = &toolState{interactionCounts: make(map[event.InteractionType]int)}
		a.tools[data.Tool] = ts
	}

	if ts.current == nil || now.Sub(ts.lastAt) > a.opts.SessionGap {
		if ts.current != nil {
			ts.current.EndedAt = ts.lastAt
			ts.sessions = append(ts.sessions, *ts.current)
		}
		ts.current = &Session{Tool: data.Tool, StartedAt: now}
	}
	ts.current.Interactions++
	ts.lastAt = now

	ts.interactions++
	ts.interactionCounts[data.InteractionType]++
	a.hourCount[now.Hour()]++

	if data.InteractionType != event.InteractionSuggestion {
		return
	}
	ts.suggestions++

	if data.Accepted == nil {
		ts.modified++
		return
	}

	ts.elapsedSumMs += data.ElapsedMs
	ts.elapsedCount++

	if !*data.Accepted {
		ts.rejected++
		return
	}
	ts.accepted++
	lines := countLines(data.CodeBlock)
	ts.linesAcceptedSum += lines
	ts.minutesSaved += a.opts.Estimator.EstimateMinutesSaved(lines)
}

func countLines(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}

// Snapshot computes the analyzer's current per-tool assessment,
// including any still-open session as of now.
func (a *Analyzer) Snapshot() Snapshot {
	now := a.opts.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	tools := make(map[string]ToolStats, len(a.tools))
	for tool, ts := range a.tools {
		sessions := len(ts.sessions)
		if ts.current != nil {
			sessions++
		}

		var acceptanceRate float64
		if decided := ts.accepted + ts.rejected; decided > 0 {
			acceptanceRate = float64(ts.accepted) / float64(decided)
		}

		var meanLines float64
		if ts.accepted > 0 {
			meanLines = float64(ts.linesAcceptedSum) / float64(ts.accepted)
		}

		var meanElapsed float64
		if ts.elapsedCount > 0 {
			meanElapsed = float64(ts.elapsedSumMs) / float64(ts.elapsedCount)
		}

		counts := make(map[string]int, len(ts.interactionCounts))
		for k, v := range ts.interactionCounts {
			counts[string(k)] = v
		}

		tools[tool] = ToolStats{
			Tool:               tool,
			Sessions:           sessions,
			Interactions:       ts.interactions,
			Suggestions:        ts.suggestions,
			Accepted:           ts.accepted,
			Rejected:           ts.rejected,
			Modified:           ts.modified,
			AcceptanceRate:     acceptanceRate,
			MeanLinesAccepted:  meanLines,
			MinutesSaved:       ts.minutesSaved,
			InteractionCounts:  counts,
			MeanElapsedToDecMs: meanElapsed,
		}
	}

	type hourHit struct {
		hour  int
		count int
	}
	hits := make([]hourHit, 0, len(a.hourCount))
	for h, c := range a.hourCount {
		hits = append(hits, hourHit{h, c})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].hour < hits[j].hour
	})
	if len(hits) > peakHourCount {
		hits = hits[:peakHourCount]
	}
	peak := make([]int, len(hits))
	for i, h := range hits {
		peak[i] = h.hour
	}

	return Snapshot{Tools: tools, PeakHours: peak, GeneratedAt: now}
}
