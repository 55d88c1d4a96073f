package stage

import (
	"path/filepath"
	"strings"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Rule is one weighted signal a stage or sub-stage listens for. A rule
// matches an event if any of its non-empty criteria groups match; the
// groups are path globs, action strings (file action / git action / run
// status), and keywords searched case-insensitively against the event's
// free-text fields (commit message, AI code block, run target).
type Rule struct {
	PathGlobs []string
	Actions   []string
	Keywords  []string
	Weight    float64
}

// signal is what a Rule is matched against, extracted once per event.
type signal struct {
	category event.Category
	paths    []string
	action   string
	text     string
}

func extractSignal(e *event.Event) signal {
	sig := signal{category: e.Category}

	switch data := e.Data.(type) {
	case *event.FilePayload:
		sig.action = string(data.Action)
		if data.NewPath != "" {
			sig.paths = append(sig.paths, data.NewPath)
		}
		if data.OldPath != "" {
			sig.paths = append(sig.paths, data.OldPath)
		}
		sig.text = data.NewPath + " " + data.OldPath + " " + string(data.ContextTag)
	case *event.GitPayload:
		sig.action = string(data.Action)
		sig.text = data.Message
		if data.Analysis != nil {
			sig.text += " " + data.Analysis.ConventionalType
		}
	case *event.RunPayload:
		sig.action = string(data.Status)
		sig.text = data.Target
	case *event.AIPayload:
		sig.action = string(data.InteractionType)
		sig.text = data.Tool + " " + data.CodeBlock
	}

	return sig
}

// Matches reports whether r fires for sig. An empty criteria group is
// skipped rather than treated as always-matching.
func (r Rule) Matches(sig signal) bool {
	for _, glob := range r.PathGlobs {
		for _, p := range sig.paths {
			if matchGlob(glob, p) {
				return true
			}
		}
	}

	for _, action := range r.Actions {
		if action == sig.action {
			return true
		}
	}

	if sig.text != "" {
		lower := strings.ToLower(sig.text)
		for _, kw := range r.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}

	return false
}

// matchGlob is a lightweight matcher for the "**/" globs used in the
// rule tables below — not a general glob engine. A leading "**/" means
// "anywhere under", a trailing "/**" means "this directory or below";
// the remaining fragment is matched against the path's base name with
// filepath.Match so single-"*" wildcards (e.g. "*_test.go") work, with a
// literal suffix check as a fallback for fragments with no wildcard of
// their own (e.g. "Dockerfile"). Adapted from the same idiom
// pkg/monitor/filemon uses for ignore globs.
func matchGlob(glob, path string) bool {
	path = filepath.ToSlash(path)

	switch {
	case strings.HasPrefix(glob, "**/") && strings.HasSuffix(glob, "/**"):
		fragment := strings.TrimSuffix(strings.TrimPrefix(glob, "**/"), "/**")
		return strings.Contains(path, "/"+fragment+"/") || strings.Contains(path, fragment+"/")
	case strings.HasPrefix(glob, "**/"):
		fragment := strings.TrimPrefix(glob, "**/")
		if matched, _ := filepath.Match(fragment, filepath.Base(path)); matched {
			return true
		}
		return strings.HasSuffix(path, "/"+fragment) || path == fragment
	case strings.HasSuffix(glob, "/**"):
		return strings.HasPrefix(path, strings.TrimSuffix(glob, "/**")+"/")
	default:
		matched, _ := filepath.Match(glob, filepath.Base(path))
		return matched
	}
}

// stageRules is the per-stage evidence rule table. Weights are
// deliberately coarse: this is a heuristic classifier, not a precise
// model, and relative ordering across rules matters more than exact
// values.
var stageRules = map[Stage][]Rule{
	StagePRD: {
		{PathGlobs: []string{"**/PRD*.md", "**/prd/**", "**/requirements/**"}, Weight: 1.0},
		{Keywords: []string{"prd", "requirement", "stakeholder", "user story"}, Weight: 0.6},
	},
	StagePlanning: {
		{PathGlobs: []string{"**/ROADMAP*.md", "**/planning/**"}, Weight: 1.0},
		{Keywords: []string{"roadmap", "milestone", "backlog"}, Weight: 0.6},
	},
	StageERD: {
		{PathGlobs: []string{"**/*.erd", "**/schema/**", "**/migrations/**"}, Weight: 1.0},
		{Keywords: []string{"entity relationship", "erd", "schema"}, Weight: 0.6},
	},
	StageWireframe: {
		{PathGlobs: []string{"**/wireframes/**", "**/*.fig", "**/*.sketch"}, Weight: 1.0},
		{Keywords: []string{"wireframe", "mockup"}, Weight: 0.6},
	},
	StageScreenDesign: {
		{PathGlobs: []string{"**/designs/**", "**/*.xd"}, Weight: 1.0},
		{Keywords: []string{"screen design", "ui spec"}, Weight: 0.6},
	},
	StageDesign: {
		{PathGlobs: []string{"**/design/**", "**/adr/**"}, Weight: 1.0},
		{Keywords: []string{"architecture", "design doc", "adr"}, Weight: 0.6},
	},
	StageFrontend: {
		{PathGlobs: []string{"**/*.tsx", "**/*.jsx", "**/*.vue", "**/*.css", "**/components/**", "**/pages/**"}, Weight: 1.0},
	},
	StageBackend: {
		{PathGlobs: []string{"**/api/**", "**/server/**", "**/handlers/**"}, Weight: 1.0},
	},
	StageAICollab: {
		{Actions: []string{"prompt", "completion", "suggestion"}, Weight: 1.0},
	},
	StageCoding: {
		{PathGlobs: []string{"**/*.go", "**/*.py", "**/*.js", "**/*.ts", "**/src/**"}, Actions: []string{"add", "modify"}, Weight: 1.0},
	},
	StageGit: {
		{Actions: []string{"commit", "branch_created", "branch_deleted", "merge", "pr"}, Weight: 1.0},
	},
	StageDeployment: {
		{PathGlobs: []string{"**/Dockerfile", "**/helm/**", "**/.github/workflows/**", "**/deploy/**"}, Weight: 1.0},
		{Keywords: []string{"deploy", "release", "helm", "docker-compose"}, Weight: 0.6},
	},
	StageOperation: {
		{PathGlobs: []string{"**/runbooks/**"}, Weight: 1.0},
		{Keywords: []string{"incident", "oncall", "runbook"}, Weight: 0.6},
	},
}

// subStageRules is the non-exclusive sub-stage evidence table, scoped
// under StageCoding.
var subStageRules = map[SubStage][]Rule{
	SubStageUseCase:             {{Keywords: []string{"use case", "usecase"}, Weight: 1.0}},
	SubStageEventStorming:       {{Keywords: []string{"event storming", "domain event"}, Weight: 1.0}},
	SubStageDomainModeling:      {{Keywords: []string{"aggregate", "entity", "value object", "bounded context"}, Weight: 1.0}},
	SubStageUseCaseDetail:       {{Keywords: []string{"use case detail", "acceptance criteria"}, Weight: 1.0}},
	SubStageAIPromptDesign:      {{Keywords: []string{"prompt design", "prompt template"}, Weight: 1.0}, {Actions: []string{"prompt"}, Weight: 0.6}},
	SubStageFirstImplementation: {{Actions: []string{"add"}, PathGlobs: []string{"**/*.go", "**/*.py", "**/*.ts", "**/*.js"}, Weight: 1.0}},
	SubStageBusinessLogic:       {{PathGlobs: []string{"**/service/**", "**/domain/**", "**/usecase/**"}, Weight: 1.0}},
	SubStageRefactoring:         {{Keywords: []string{"refactor"}, Weight: 1.0}},
	SubStageUnitTest:            {{PathGlobs: []string{"**/*_test.go", "**/test_*.py", "**/*.test.ts", "**/*.test.js"}, Weight: 1.0}},
	SubStageIntegrationTest:     {{PathGlobs: []string{"**/integration/**", "**/*_integration_test.go"}, Weight: 1.0}},
	SubStageE2ETest:             {{PathGlobs: []string{"**/e2e/**", "**/*.e2e.*"}, Weight: 1.0}},
}

// scoreStages returns the evidence each stage's rule set contributes for
// a single event.
func scoreStages(sig signal) map[Stage]float64 {
	scores := make(map[Stage]float64)
	for st, rules := range stageRules {
		var total float64
		for _, r := range rules {
			if r.Matches(sig) {
				total += r.Weight
			}
		}
		if total > 0 {
			scores[st] = total
		}
	}
	return scores
}

// scoreSubStages returns the evidence each sub-stage's rule set
// contributes for a single event.
func scoreSubStages(sig signal) map[SubStage]float64 {
	scores := make(map[SubStage]float64)
	for st, rules := range subStageRules {
		var total float64
		for _, r := range rules {
			if r.Matches(sig) {
				total += r.Weight
			}
		}
		if total > 0 {
			scores[st] = total
		}
	}
	return scores
}
