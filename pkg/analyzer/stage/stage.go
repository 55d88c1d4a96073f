// Package stage classifies the active development stage from the event
// stream: each event is scored against a rule table (path globs, action
// matches, keyword matches) and the scores accumulate as weighted
// evidence inside a sliding window. The stage with the most evidence is
// the candidate; a transition fires only once confidence and cooldown
// conditions are satisfied.
package stage

// Stage is one of the enumerated development phases, ordered as the
// project is expected to move through them.
type Stage string

// Recognized stages, in typical progression order.
const (
	StagePRD          Stage = "PRD"
	StagePlanning     Stage = "planning"
	StageERD          Stage = "ERD"
	StageWireframe    Stage = "wireframe"
	StageScreenDesign Stage = "screen_design"
	StageDesign       Stage = "design"
	StageFrontend     Stage = "frontend"
	StageBackend      Stage = "backend"
	StageAICollab     Stage = "ai_collab"
	StageCoding       Stage = "coding"
	StageGit          Stage = "git"
	StageDeployment   Stage = "deployment"
	StageOperation    Stage = "operation"
)

// Stages lists every recognized stage in progression order, used to
// derive "next stage" suggestions.
var Stages = []Stage{
	StagePRD, StagePlanning, StageERD, StageWireframe, StageScreenDesign,
	StageDesign, StageFrontend, StageBackend, StageAICollab, StageCoding,
	StageGit, StageDeployment, StageOperation,
}

// SubStage is a finer-grained, non-exclusive activity within the coding
// stage. Any number of sub-stages can be active at once.
type SubStage string

// Recognized sub-stages, all scoped under StageCoding.
const (
	SubStageUseCase             SubStage = "usecase"
	SubStageEventStorming       SubStage = "event_storming"
	SubStageDomainModeling      SubStage = "domain_modeling"
	SubStageUseCaseDetail       SubStage = "usecase_detail"
	SubStageAIPromptDesign      SubStage = "ai_prompt_design"
	SubStageFirstImplementation SubStage = "first_implementation"
	SubStageBusinessLogic       SubStage = "business_logic"
	SubStageRefactoring         SubStage = "refactoring"
	SubStageUnitTest            SubStage = "unit_test"
	SubStageIntegrationTest     SubStage = "integration_test"
	SubStageE2ETest             SubStage = "e2e_test"
)

// SubStages lists every recognized sub-stage.
var SubStages = []SubStage{
	SubStageUseCase, SubStageEventStorming, SubStageDomainModeling,
	SubStageUseCaseDetail, SubStageAIPromptDesign, SubStageFirstImplementation,
	SubStageBusinessLogic, SubStageRefactoring, SubStageUnitTest,
	SubStageIntegrationTest, SubStageE2ETest,
}

// Transition records one stage change, mirroring event.StagePayload plus
// the wall-clock time it fired.
type Transition struct {
	From       Stage
	To         Stage
	At         int64 // milliseconds since epoch
	Confidence float64
	Reason     string
}

// ring is a fixed-capacity circular buffer that evicts its oldest entry
// once full, backing the "transitions: bounded ring" stage state field.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Push(v T) {
	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = v
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// Items returns the buffered entries oldest-first.
func (r *ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
