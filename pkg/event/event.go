// Package event defines the atomic record the rest of devpulse moves:
// the Event, its category/severity enums, and the per-category payload
// shapes produced by the monitors and consumed by the analyzers, store,
// bus, queue, and stream packages.
package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Category is the top-level partition of an event's origin.
type Category string

// Recognized event categories.
const (
	CategoryFile     Category = "file"
	CategoryGit      Category = "git"
	CategoryTest     Category = "test"
	CategoryBuild    Category = "build"
	CategoryProcess  Category = "process"
	CategoryStage    Category = "stage"
	CategoryAI       Category = "ai"
	CategoryAPI      Category = "api"
	CategorySystem   Category = "system"
	CategoryActivity Category = "activity"
)

// knownCategories backs Category.Valid without allocating on every call.
var knownCategories = map[Category]struct{}{
	CategoryFile:     {},
	CategoryGit:      {},
	CategoryTest:     {},
	CategoryBuild:    {},
	CategoryProcess:  {},
	CategoryStage:    {},
	CategoryAI:       {},
	CategoryAPI:      {},
	CategorySystem:   {},
	CategoryActivity: {},
}

// Valid reports whether c is one of the recognized categories.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// Severity orders an event's importance, lowest to highest.
type Severity string

// Recognized severities, ascending.
const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityNotice   Severity = "notice"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityNotice:   2,
	SeverityWarning:  3,
	SeverityError:    4,
	SeverityCritical: 5,
}

// Valid reports whether s is one of the recognized severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Metadata carries optional correlation data alongside an Event.
type Metadata struct {
	CorrelationID string  `json:"correlationId,omitempty"`
	ParentEventID string  `json:"parentEventId,omitempty"`
	Actor         string  `json:"actor,omitempty"`
	Branch        string  `json:"branch,omitempty"`
	Impact        float64 `json:"impact,omitempty"`

	// TraceID and SpanID correlate the event back to the OTel span active
	// at publish time, when one exists. Populated by pkg/bus, not by callers.
	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`
}

// Event is the atomic record moved through the bus, queue, store, and
// stream fan-out.
type Event struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Timestamp int64    `json:"timestamp"` // milliseconds since epoch
	Source    string   `json:"source"`
	Data      any      `json:"data"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Sentinel errors describing why an event was rejected or could not be
// routed further.
var (
	ErrInvalidEvent    = errors.New("invalid event")
	ErrMissingType     = errors.New("event missing type")
	ErrUnknownCategory = errors.New("unknown event category")
	ErrUnknownSeverity = errors.New("unknown event severity")
)

// New builds an Event with a generated ID and the current timestamp,
// leaving Data/Metadata for the caller to fill in. Monitors use this as
// their single construction point so id/timestamp assignment lives in
// one place.
func New(typ string, category Category, severity Severity, source string, data any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Data:      data,
	}
}

// EnsureDefaults assigns an ID and timestamp if either is unset. It is
// called by pkg/bus.Publish per spec.md's "assigns id/timestamp if
// missing" rule, and is idempotent.
func (e *Event) EnsureDefaults() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
}

// Validate checks the structural invariants every event must satisfy
// before it is dispatched: a non-empty type, and a recognized category
// and severity. Per-category payload shape validation is a separate
// step (see ValidatePayload in schema.go) because it requires a JSON Schema
// per category rather than a Go-level check.
func (e *Event) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if !e.Category.Valid() {
		return errorf(ErrUnknownCategory, string(e.Category))
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	} else if !e.Severity.Valid() {
		return errorf(ErrUnknownSeverity, string(e.Severity))
	}
	return nil
}

func errorf(sentinel error, detail string) error {
	return &validationError{sentinel: sentinel, detail: detail}
}

type validationError struct {
	sentinel error
	detail   string
}

func (e *validationError) Error() string {
	return e.sentinel.Error() + ": " + e.detail
}

func (e *validationError) Unwrap() error {
	return e.sentinel
}
