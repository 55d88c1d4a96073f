// Package bus is devpulse's single publish point: it dispatches events
// to in-process subscribers, optionally hands them to the queue router,
// and tracks running statistics. Subscriptions are copy-on-write so
// dispatch never holds a lock across a handler call.
package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Handler processes a dispatched event. Handlers must treat the event
// as read-only; the bus does not copy it per subscriber.
type Handler func(ctx context.Context, e *event.Event)

// Filter narrows which events a subscription receives, applied after
// pattern match.
type Filter struct {
	Categories []event.Category
	Severities []event.Severity
	Sources    []string
}

func (f *Filter) matches(e *event.Event) bool {
	return f.Matches(e)
}

// Matches reports whether e passes f's category/severity/source
// constraints. A nil Filter matches everything. Exported so other
// packages (pkg/stream's per-subscriber filtering) can reuse the same
// semantics without reimplementing them.
func (f *Filter) Matches(e *event.Event) bool {
	if f == nil {
		return true
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Source) {
		return false
	}
	return true
}

// Subscription is one registered handler.
type Subscription struct {
	ID       string
	Pattern  string
	Priority int
	Filter   *Filter
	handler  Handler
}

// Router is the narrow interface the bus needs from the queue manager.
// Declaring it here (rather than importing pkg/queue) keeps the two
// packages independent: neither pkg/bus nor pkg/queue imports the
// other, and both share event types through pkg/event.
type Router interface {
	Route(ctx context.Context, e *event.Event) error
}

// PublishOptions controls a single Publish call.
type PublishOptions struct {
	// UseQueue routes the event to the Router after subscriber dispatch.
	// The zero value (false) does not route the event.
	UseQueue bool
}

// Stats is a snapshot of bus-wide counters.
type Stats struct {
	TotalEvents     int64
	PerCategory     map[event.Category]int64
	PerSeverity     map[event.Severity]int64
	SubscriberCount int
	EventsPerHour   int64
}

// Sentinel errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Bus is the single publish/subscribe dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex // guards subs during subscribe/unsubscribe copy-on-write swaps
	subs atomic.Pointer[[]*Subscription]

	router Router
	tracer trace.Tracer

	totalEvents int64

	statsMu     sync.Mutex
	perCategory map[event.Category]int64
	perSeverity map[event.Severity]int64
	minuteRing  [minuteBuckets]minuteBucket

	onSubscriberError func(ctx context.Context, subID string, err error)
}

// minuteBuckets is the number of 1-minute buckets kept to estimate
// eventsPerHour without storing every event timestamp.
const minuteBuckets = 60

type minuteBucket struct {
	minute int64 // unix minute this bucket covers
	count  int64
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithRouter installs the queue router used when Publish is called with
// UseQueue set.
func WithRouter(r Router) Option {
	return func(b *Bus) { b.router = r }
}

// WithTracer installs an OTel tracer used to span each Publish call.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) { b.tracer = t }
}

// WithSubscriberErrorHook installs a callback invoked whenever a
// handler panics or the bus otherwise isolates a subscriber fault. The
// queue-backed "emit system.subscriber_error" behavior lives here so the
// bus itself has no dependency on pkg/event's system-category producer.
func WithSubscriberErrorHook(fn func(ctx context.Context, subID string, err error)) Option {
	return func(b *Bus) { b.onSubscriberError = fn }
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		perCategory: make(map[event.Category]int64),
		perSeverity: make(map[event.Severity]int64),
	}
	empty := make([]*Subscription, 0)
	b.subs.Store(&empty)

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// PublishResult reports how many subscribers received the event.
type PublishResult struct {
	Delivered int
}

// Publish validates e, assigns id/timestamp if unset, dispatches to every
// matching subscription in descending priority order, then — when
// opts.UseQueue — hands e to the installed Router. A handler that panics
// is isolated: its fault is reported via the subscriber-error hook and
// dispatch continues to the next handler.
func (b *Bus) Publish(ctx context.Context, e *event.Event, opts PublishOptions) (PublishResult, error) {
	if b.tracer != nil {
		var span trace.Span
		ctx, span = b.tracer.Start(ctx, "bus.publish", trace.WithAttributes(
			attribute.String("event.type", e.Type),
		))
		defer span.End()

		result, err := b.publish(ctx, e, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result, err
	}

	return b.publish(ctx, e, opts)
}

func (b *Bus) publish(ctx context.Context, e *event.Event, opts PublishOptions) (PublishResult, error) {
	e.EnsureDefaults()

	if err := e.Validate(); err != nil {
		return PublishResult{}, fmt.Errorf("%w: %w", event.ErrInvalidEvent, err)
	}
	if err := event.ValidatePayload(e); err != nil {
		return PublishResult{}, err
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		if e.Metadata == nil {
			e.Metadata = &event.Metadata{}
		}
		e.Metadata.TraceID = sc.TraceID().String()
		e.Metadata.SpanID = sc.SpanID().String()
	}

	b.recordStats(e)

	matching := b.matchingSubscriptions(e)

	delivered := 0
	for _, sub := range matching {
		b.dispatchOne(ctx, sub, e)
		delivered++
	}

	if opts.UseQueue && b.router != nil {
		if err := b.router.Route(ctx, e); err != nil {
			return PublishResult{Delivered: delivered}, err
		}
	}

	return PublishResult{Delivered: delivered}, nil
}

func (b *Bus) dispatchOne(ctx context.Context, sub *Subscription, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("subscriber %s panicked: %v\n%s", sub.ID, r, debug.Stack())
			if b.onSubscriberError != nil {
				b.onSubscriberError(ctx, sub.ID, err)
			}
		}
	}()

	sub.handler(ctx, e)
}

func (b *Bus) recordStats(e *event.Event) {
	atomic.AddInt64(&b.totalEvents, 1)

	minute := e.Timestamp / msPerMinute

	b.statsMu.Lock()
	b.perCategory[e.Category]++
	b.perSeverity[e.Severity]++

	bucket := &b.minuteRing[minute%minuteBuckets]
	if bucket.minute != minute {
		bucket.minute = minute
		bucket.count = 0
	}
	bucket.count++
	b.statsMu.Unlock()
}

const msPerMinute = 60_000

// eventsPerHourLocked sums the non-stale minute buckets. Must be called with
// statsMu held.
func (b *Bus) eventsPerHourLocked(nowMinute int64) int64 {
	var total int64
	for i := range b.minuteRing {
		bucket := &b.minuteRing[i]
		if nowMinute-bucket.minute < minuteBuckets {
			total += bucket.count
		}
	}
	return total
}

// matchingSubscriptions returns the subscriptions matching e's type and
// filter, ordered by descending priority (ties keep registration order,
// which the stable sort preserves).
func (b *Bus) matchingSubscriptions(e *event.Event) []*Subscription {
	subs := *b.subs.Load()

	matched := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if !patternMatches(sub.Pattern, e.Type) {
			continue
		}
		if !sub.Filter.matches(e) {
			continue
		}
		matched = append(matched, sub)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	return matched
}

// patternMatches reports whether eventType matches pattern, which is
// either a literal type string or "*" (match all).
func patternMatches(pattern, eventType string) bool {
	return pattern == "*" || pattern == eventType
}

func containsCategory(haystack []event.Category, needle event.Category) bool {
	for _, c := range haystack {
		if c == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []event.Severity, needle event.Severity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
