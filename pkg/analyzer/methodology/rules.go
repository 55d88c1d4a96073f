package methodology

import (
	"regexp"
	"strings"
)

// tokenRule is one regex signal contributing evidence to a
// methodology's score when it matches an event's free text (file path,
// commit message, AI code block).
type tokenRule struct {
	pattern *regexp.Regexp
	weight  float64
}

func wordRule(weight float64, words ...string) tokenRule {
	return tokenRule{
		pattern: regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`),
		weight:  weight,
	}
}

// dddRules match the DDD building-block vocabulary spec.md names:
// Entity/ValueObject/Aggregate/Repository/Service/BoundedContext.
var dddRules = []tokenRule{
	wordRule(1.0, "entity", "entities"),
	wordRule(1.0, "valueobject", "value_object", "value object"),
	wordRule(1.2, "aggregate", "aggregateroot", "aggregate_root"),
	wordRule(1.0, "repository"),
	wordRule(0.6, "service"),
	wordRule(1.2, "boundedcontext", "bounded_context", "bounded context"),
}

// bddRules match Gherkin-style specification vocabulary.
var bddRules = []tokenRule{
	wordRule(1.2, "given"),
	wordRule(1.2, "when"),
	wordRule(1.2, "then"),
	wordRule(1.0, "scenario"),
	wordRule(0.8, "feature"),
}

// edaRules match event-driven architecture vocabulary.
var edaRules = []tokenRule{
	wordRule(1.0, "event"),
	wordRule(1.0, "handler"),
	wordRule(1.2, "saga"),
	wordRule(1.2, "cqrs"),
	wordRule(1.0, "publisher", "subscriber"),
	wordRule(1.0, "eventbus", "event_bus", "event bus"),
}

// gherkinFileRE matches ".feature" paths, a strong BDD signal on its
// own regardless of the file's text content.
var gherkinFileRE = regexp.MustCompile(`(?i)\.feature$`)

func scoreTokens(rules []tokenRule, text string) float64 {
	if text == "" {
		return 0
	}
	var total float64
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			total += r.weight
		}
	}
	return total
}

// scoreSaturation caps a methodology's accumulated evidence into a
// 0-100 score: evidence of ~scoreSaturation points maxes the score out.
const scoreSaturation = 12.0

func toScore(evidence float64) float64 {
	pct := evidence / scoreSaturation * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

func narrative(m Methodology, value float64) ([]string, []string, []string) {
	switch {
	case value >= 70:
		return strengthsHigh[m], nil, recommendationsHigh[m]
	case value >= 35:
		return strengthsMid[m], weaknessesMid[m], recommendationsMid[m]
	default:
		return nil, weaknessesLow[m], recommendationsLow[m]
	}
}

var strengthsHigh = map[Methodology][]string{
	DDD: {"Consistent use of entities, aggregates, and repositories"},
	TDD: {"Tests are consistently written ahead of implementation"},
	BDD: {"Specifications are expressed in Given/When/Then form"},
	EDA: {"Event/handler vocabulary is pervasive across changes"},
}

var strengthsMid = map[Methodology][]string{
	DDD: {"Some domain vocabulary present in code and commits"},
	TDD: {"Test activity correlates with source changes some of the time"},
	BDD: {"Occasional Gherkin-style scenarios"},
	EDA: {"Some event-driven vocabulary present"},
}

var weaknessesMid = map[Methodology][]string{
	DDD: {"Domain vocabulary is inconsistent across the codebase"},
	TDD: {"Tests often lag behind or are skipped for some changes"},
	BDD: {"Specifications are not consistently Gherkin-style"},
	EDA: {"Event-driven patterns are used only in parts of the system"},
}

var weaknessesLow = map[Methodology][]string{
	DDD: {"Little evidence of domain-driven vocabulary"},
	TDD: {"Tests rarely precede source changes"},
	BDD: {"No Given/When/Then style specifications observed"},
	EDA: {"No event/handler/saga vocabulary observed"},
}

var recommendationsHigh = map[Methodology][]string{
	DDD: {"Keep bounded contexts explicit as the codebase grows"},
	TDD: {"Maintain the red-green-refactor discipline on new work"},
	BDD: {"Keep scenarios synchronized with acceptance criteria"},
	EDA: {"Document event contracts as the event catalog grows"},
}

var recommendationsMid = map[Methodology][]string{
	DDD: {"Introduce explicit aggregate boundaries for core entities"},
	TDD: {"Write the failing test before the implementation change"},
	BDD: {"Adopt a single Gherkin-style format for new specs"},
	EDA: {"Extract a shared event contract for common triggers"},
}

var recommendationsLow = map[Methodology][]string{
	DDD: {"Start naming core domain concepts as entities/aggregates/services"},
	TDD: {"Add a test-first pass before touching production code"},
	BDD: {"Pilot Given/When/Then specs on one feature"},
	EDA: {"Identify the first candidate workflow for an event/handler split"},
}
