package stage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/persist"
)

const checkpointBasename = "stage_analyzer"

func newPersister() *persist.Persister[checkpointState] {
	return persist.NewPersister[checkpointState](checkpointBasename, persist.NewJSONCodec())
}

// checkpointState is the subset of Analyzer's state worth persisting
// across a restart: the derived stage classification and its history,
// not the raw sliding-window evidence samples, which rebuild quickly
// from the next hour of events.
type checkpointState struct {
	Current         Stage                `json:"current"`
	Confidence      float64              `json:"confidence"`
	ActiveSubStages []SubStage           `json:"activeSubStages"`
	StageProgress   map[Stage]int        `json:"stageProgress"`
	FirstEnteredAt  map[Stage]time.Time  `json:"firstEnteredAt"`
	LastActiveAt    map[Stage]time.Time  `json:"lastActiveAt"`
	Transitions     []Transition         `json:"transitions"`
	LastTransition  time.Time            `json:"lastTransition"`
}

// SaveCheckpoint implements checkpoint.Checkpointable: it writes the
// analyzer's current stage classification and transition history to
// dir, letting a restart skip re-deriving them from the full event log.
func (a *Analyzer) SaveCheckpoint(dir string) error {
	a.mu.Lock()
	state := checkpointState{
		Current:        a.current,
		Confidence:     a.confidence,
		StageProgress:  copyStageInts(a.stageProgress),
		FirstEnteredAt: copyStageTimes(a.firstEnteredAt),
		LastActiveAt:   copyStageTimes(a.lastActiveAt),
		Transitions:    a.transitions.Items(),
		LastTransition: a.lastTransition,
	}
	for sub, active := range a.activeSubStages {
		if active {
			state.ActiveSubStages = append(state.ActiveSubStages, sub)
		}
	}
	a.mu.Unlock()

	if err := newPersister().Save(dir, func() *checkpointState { return &state }); err != nil {
		return fmt.Errorf("save stage checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements checkpoint.Checkpointable: it restores the
// stage classification and transition history SaveCheckpoint wrote,
// leaving the sliding-window evidence samples empty (they rebuild from
// the next events Ingest sees).
func (a *Analyzer) LoadCheckpoint(dir string) error {
	var state checkpointState
	if err := newPersister().Load(dir, func(s *checkpointState) { state = *s }); err != nil {
		return fmt.Errorf("load stage checkpoint: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = state.Current
	a.confidence = state.Confidence
	a.stageProgress = state.StageProgress
	a.firstEnteredAt = state.FirstEnteredAt
	a.lastActiveAt = state.LastActiveAt
	a.lastTransition = state.LastTransition

	a.activeSubStages = make(map[SubStage]bool, len(state.ActiveSubStages))
	for _, sub := range state.ActiveSubStages {
		a.activeSubStages[sub] = true
	}

	a.transitions = newRing[Transition](a.opts.MaxTransitions)
	for _, t := range state.Transitions {
		a.transitions.Push(t)
	}

	return nil
}

// CheckpointSize implements checkpoint.Checkpointable.
func (a *Analyzer) CheckpointSize() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := json.Marshal(a.transitions.Items())
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func copyStageInts(m map[Stage]int) map[Stage]int {
	out := make(map[Stage]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStageTimes(m map[Stage]time.Time) map[Stage]time.Time {
	out := make(map[Stage]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
