package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Default tuning values, overridable via Options.
const (
	DefaultWindow              = time.Hour
	DefaultConfidenceThreshold = 0.5
	DefaultTransitionCooldown  = time.Minute
	DefaultSubStageThreshold   = 0.5
	DefaultMaxTransitions      = 200
)

// Publisher is the narrow bus dependency the analyzer needs to emit
// stage:transition events.
type Publisher interface {
	Publish(ctx context.Context, e *event.Event, opts bus.PublishOptions) (bus.PublishResult, error)
}

// Recorder persists a transition to the event store's dedicated
// bookkeeping table, independent of the stage:transition event itself.
type Recorder interface {
	RecordTransition(ctx context.Context, fromStage, toStage string, at time.Time, confidence float64, reason string) error
}

// Options configures an Analyzer. Zero values fall back to the defaults
// above.
type Options struct {
	Window              time.Duration
	ConfidenceThreshold float64
	TransitionCooldown  time.Duration
	SubStageThreshold   float64
	MaxTransitions      int
	Logger              *slog.Logger

	// now is a seam for deterministic tests; nil means time.Now.
	now func() time.Time
}

type sample struct {
	at        time.Time
	stages    map[Stage]float64
	subStages map[SubStage]float64
}

// Analyzer classifies the active development stage from the event
// stream, maintaining the bounded stage state spec.md's data model
// calls for: current stage, confidence, active sub-stages, per-stage
// progress, a bounded transition history, and first/last-active
// timestamps per stage.
type Analyzer struct {
	opts      Options
	publisher Publisher
	recorder  Recorder

	mu              sync.Mutex
	samples         []sample
	current         Stage
	confidence      float64
	activeSubStages map[SubStage]bool
	stageProgress   map[Stage]int
	firstEnteredAt  map[Stage]time.Time
	lastActiveAt    map[Stage]time.Time
	transitions     *ring[Transition]
	lastTransition  time.Time
}

// New constructs an Analyzer. publisher and recorder may be nil (the
// analyzer then just maintains in-memory state without emitting or
// persisting transitions — useful for tests and cold-start replay).
func New(opts Options, publisher Publisher, recorder Recorder) *Analyzer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.TransitionCooldown <= 0 {
		opts.TransitionCooldown = DefaultTransitionCooldown
	}
	if opts.SubStageThreshold <= 0 {
		opts.SubStageThreshold = DefaultSubStageThreshold
	}
	if opts.MaxTransitions <= 0 {
		opts.MaxTransitions = DefaultMaxTransitions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	return &Analyzer{
		opts:            opts,
		publisher:       publisher,
		recorder:        recorder,
		activeSubStages: make(map[SubStage]bool),
		stageProgress:   make(map[Stage]int),
		firstEnteredAt:  make(map[Stage]time.Time),
		lastActiveAt:    make(map[Stage]time.Time),
		transitions:     newRing[Transition](opts.MaxTransitions),
	}
}

// Subscribe registers the analyzer on b to receive every non-stage
// event; stage:transition events are excluded so the analyzer never
// feeds on its own output.
func (a *Analyzer) Subscribe(b *bus.Bus) string {
	return b.Subscribe("*", func(ctx context.Context, e *event.Event) {
		a.Ingest(ctx, e)
	}, bus.SubscribeOptions{
		Filter: &bus.Filter{
			Categories: []event.Category{
				event.CategoryFile, event.CategoryGit, event.CategoryTest,
				event.CategoryBuild, event.CategoryAI, event.CategorySystem,
			},
		},
	})
}

// Ingest scores e against the rule tables, folds the result into the
// sliding window, and fires a transition if conditions are met.
func (a *Analyzer) Ingest(ctx context.Context, e *event.Event) {
	sig := extractSignal(e)
	stageScores := scoreStages(sig)
	subScores := scoreSubStages(sig)
	if len(stageScores) == 0 && len(subScores) == 0 {
		return
	}

	now := a.opts.now()

	a.mu.Lock()
	a.samples = append(a.samples, sample{at: now, stages: stageScores, subStages: subScores})
	a.pruneLocked(now)

	stageEvidence, subEvidence := a.evidenceLocked()
	a.recomputeSubStagesLocked(subEvidence)
	a.recomputeProgressLocked(stageEvidence)

	candidate, candidateScore, total := argmaxStage(stageEvidence)
	var confidence float64
	if total > 0 {
		confidence = candidateScore / total
	}

	transition := a.maybeTransitionLocked(now, candidate, confidence)
	a.mu.Unlock()

	// The first classification out of the empty state is kept in the
	// history but is not published or recorded as a stage:transition.
	if transition != nil && transition.From != "" {
		a.publishTransition(ctx, *transition)
	}
}

func (a *Analyzer) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.opts.Window)
	i := 0
	for i < len(a.samples) && a.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.samples = a.samples[i:]
	}
}

func (a *Analyzer) evidenceLocked() (map[Stage]float64, map[SubStage]float64) {
	stages := make(map[Stage]float64)
	subStages := make(map[SubStage]float64)
	for _, s := range a.samples {
		for st, v := range s.stages {
			stages[st] += v
		}
		for sub, v := range s.subStages {
			subStages[sub] += v
		}
	}
	return stages, subStages
}

func argmaxStage(evidence map[Stage]float64) (best Stage, bestScore, total float64) {
	for st, v := range evidence {
		total += v
		if v > bestScore {
			best, bestScore = st, v
		}
	}
	return best, bestScore, total
}

// recomputeSubStagesLocked marks a sub-stage active when its raw
// evidence exceeds SubStageThreshold; sub-stages are non-exclusive, so
// any number can be active at once.
func (a *Analyzer) recomputeSubStagesLocked(subEvidence map[SubStage]float64) {
	active := make(map[SubStage]bool)
	for sub, v := range subEvidence {
		if v > a.opts.SubStageThreshold {
			active[sub] = true
		}
	}
	a.activeSubStages = active
}

// recomputeProgressLocked derives 0-100 progress per stage from its
// accumulated evidence. Progress is monotonic: once a stage has shown
// evidence it doesn't drop back to 0 just because the sliding window
// has moved past those events, since "how much PRD work happened" is a
// cumulative fact, not a live evidence level.
func (a *Analyzer) recomputeProgressLocked(stageEvidence map[Stage]float64) {
	const progressDivisor = 4.0 // evidence of ~4 saturates a stage's progress to 100
	for st, v := range stageEvidence {
		pct := int(v / progressDivisor * 100)
		if pct > 100 {
			pct = 100
		}
		if pct > a.stageProgress[st] {
			a.stageProgress[st] = pct
		}
	}
}

func (a *Analyzer) maybeTransitionLocked(now time.Time, candidate Stage, confidence float64) *Transition {
	if candidate == "" || candidate == a.current {
		return nil
	}
	if confidence < a.opts.ConfidenceThreshold {
		return nil
	}
	if !a.lastTransition.IsZero() && now.Sub(a.lastTransition) < a.opts.TransitionCooldown {
		return nil
	}

	from := a.current
	a.current = candidate
	a.confidence = confidence
	a.lastTransition = now

	if _, seen := a.firstEnteredAt[candidate]; !seen {
		a.firstEnteredAt[candidate] = now
	}
	a.lastActiveAt[candidate] = now

	t := Transition{
		From:       from,
		To:         candidate,
		At:         now.UnixMilli(),
		Confidence: confidence,
		Reason:     fmt.Sprintf("evidence favored %s with confidence %.2f", candidate, confidence),
	}
	a.transitions.Push(t)

	return &t
}

func (a *Analyzer) publishTransition(ctx context.Context, t Transition) {
	if a.publisher != nil {
		e := event.New("stage:transition", event.CategoryStage, event.SeverityInfo, "stage-analyzer", &event.StagePayload{
			FromStage:  string(t.From),
			ToStage:    string(t.To),
			Confidence: t.Confidence,
			Reason:     t.Reason,
		})
		if _, err := a.publisher.Publish(ctx, e, bus.PublishOptions{UseQueue: true}); err != nil {
			a.opts.Logger.Warn("stage: publish transition failed", slog.String("error", err.Error()))
		}
	}

	if a.recorder != nil {
		if err := a.recorder.RecordTransition(ctx, string(t.From), string(t.To), time.UnixMilli(t.At), t.Confidence, t.Reason); err != nil {
			a.opts.Logger.Warn("stage: record transition failed", slog.String("error", err.Error()))
		}
	}
}

// Result is the analyze() output spec.md's facade exposes.
type Result struct {
	CurrentStage    Stage
	Confidence      float64
	ActiveSubStages []SubStage
	StageProgress   map[Stage]int
	Transitions     []Transition
	Suggestions     []string
	TimeSpent       map[Stage]time.Duration
}

// Analyze returns a snapshot of the analyzer's current state.
func (a *Analyzer) Analyze() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	subs := make([]SubStage, 0, len(a.activeSubStages))
	for sub := range a.activeSubStages {
		subs = append(subs, sub)
	}

	progress := make(map[Stage]int, len(a.stageProgress))
	for st, v := range a.stageProgress {
		progress[st] = v
	}

	now := a.opts.now()
	timeSpent := make(map[Stage]time.Duration, len(a.firstEnteredAt))
	for st, first := range a.firstEnteredAt {
		last := a.lastActiveAt[st]
		if st == a.current {
			last = now
		}
		timeSpent[st] = last.Sub(first)
	}

	return Result{
		CurrentStage:    a.current,
		Confidence:      a.confidence,
		ActiveSubStages: subs,
		TimeSpent:       timeSpent,
		StageProgress:   progress,
		Transitions:     a.transitions.Items(),
		Suggestions:     suggestionsFor(a.current),
	}
}

func suggestionsFor(current Stage) []string {
	for i, st := range Stages {
		if st != current {
			continue
		}
		if i+1 < len(Stages) {
			return []string{fmt.Sprintf("Consider moving toward %s next", Stages[i+1])}
		}
		return []string{"Project is in its final recognized stage; keep monitoring for drift back to earlier stages"}
	}
	return []string{"Not enough evidence yet to suggest a next step"}
}
