// Package methodology scores adherence to four development
// methodologies — DDD, TDD, BDD, and EDA — independently from 0 to 100,
// using regex/token rules over file paths, commit messages, and (for
// TDD) the temporal order test and source files are touched in.
package methodology

import "time"

// Methodology identifies one of the four scored practices.
type Methodology string

// Recognized methodologies.
const (
	DDD Methodology = "ddd"
	TDD Methodology = "tdd"
	BDD Methodology = "bdd"
	EDA Methodology = "eda"
)

// All lists every recognized methodology.
var All = []Methodology{DDD, TDD, BDD, EDA}

// Score is one methodology's scored assessment.
type Score struct {
	Value           float64
	Strengths       []string
	Weaknesses      []string
	Recommendations []string
	Details         map[string]any
}

// Trend is an hourly-usage growth comparison for one methodology.
type Trend struct {
	FirstHalfHits  int
	SecondHalfHits int
	GrowthPercent  float64
}

// Snapshot is the methodology analyzer's current assessment.
type Snapshot struct {
	Scores      map[Methodology]Score
	Overall     float64
	Dominant    Methodology // empty if no methodology leads by >= dominanceMargin
	Trends      map[Methodology]Trend
	GeneratedAt time.Time
}

// dominanceMargin is the point-spread a methodology must lead the
// runner-up by to be reported as dominant.
const dominanceMargin = 15.0
