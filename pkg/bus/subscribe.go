package bus

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	Priority int
	Filter   *Filter
}

// Subscribe registers handler to receive events whose type matches
// pattern (a literal type string or "*"). Returns a subscription ID
// usable with Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler, opts SubscribeOptions) string {
	sub := &Subscription{
		ID:       uuid.NewString(),
		Pattern:  pattern,
		Priority: opts.Priority,
		Filter:   opts.Filter,
		handler:  handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()
	next := make([]*Subscription, len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	b.subs.Store(&next)

	return sub.ID
}

// Unsubscribe removes the subscription with the given ID. Returns
// ErrSubscriptionNotFound if no such subscription is registered.
func (b *Bus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subs.Load()

	idx := -1
	for i, sub := range current {
		if sub.ID == subscriptionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSubscriptionNotFound
	}

	next := make([]*Subscription, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	b.subs.Store(&next)

	return nil
}

// Stats returns a snapshot of bus-wide counters.
func (b *Bus) Stats() Stats {
	nowMinute := time.Now().UnixMilli() / msPerMinute

	b.statsMu.Lock()
	perCategory := make(map[event.Category]int64, len(b.perCategory))
	for k, v := range b.perCategory {
		perCategory[k] = v
	}
	perSeverity := make(map[event.Severity]int64, len(b.perSeverity))
	for k, v := range b.perSeverity {
		perSeverity[k] = v
	}
	eventsPerHour := b.eventsPerHourLocked(nowMinute)
	b.statsMu.Unlock()

	return Stats{
		TotalEvents:     atomic.LoadInt64(&b.totalEvents),
		PerCategory:     perCategory,
		PerSeverity:     perSeverity,
		SubscriberCount: len(*b.subs.Load()),
		EventsPerHour:   eventsPerHour,
	}
}
