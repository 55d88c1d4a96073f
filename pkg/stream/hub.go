// Package stream multiplexes the event bus to dashboard-style
// subscribers with per-subscriber filtering and delivery control, and
// exposes that multiplexing over WebSocket connections.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Default tuning values, overridable via Options.
const (
	DefaultReplayWindow = 15 * time.Minute
	DefaultSweepPeriod  = time.Second
)

// Callback receives one delivered event for a subscriber.
type Callback func(e *event.Event)

type ringEntry struct {
	at time.Time
	e  *event.Event
}

type subscriberState struct {
	id        string
	callback  Callback
	filter    *bus.Filter
	minGap    time.Duration
	maxPerSec int

	// sentAt holds the delivery timestamps still inside the trailing
	// 1-second window, oldest first. Checked and pruned on every
	// Ingest call, so the cap holds over any rolling 1-second window,
	// not just once-per-sweep.
	sentAt     []time.Time
	lastSentAt time.Time
}

// Options configures a Hub.
type Options struct {
	ReplayWindow time.Duration
	SweepPeriod  time.Duration
	Logger       *slog.Logger

	now func() time.Time
}

// Hub is the transport-agnostic fan-out core: it ingests every event
// published on the bus, retains a bounded replay ring, and delivers to
// each subscriber according to that subscriber's filter, minimum gap,
// and rolling-1-second rate cap, checked in that order.
type Hub struct {
	opts Options

	mu          sync.Mutex
	subscribers map[string]*subscriberState
	ring        []ringEntry

	stopSweep chan struct{}
}

// New constructs a Hub. Callers must call Run to start its sweep
// goroutine and Stop to end it.
func New(opts Options) *Hub {
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	if opts.SweepPeriod <= 0 {
		opts.SweepPeriod = DefaultSweepPeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	return &Hub{
		opts:        opts,
		subscribers: make(map[string]*subscriberState),
		stopSweep:   make(chan struct{}),
	}
}

// Subscribe registers id to receive events matching filter, no more
// often than minGap apart and no more than maxPerSec per second. A
// maxPerSec of 0 means unlimited.
func (h *Hub) Subscribe(id string, callback Callback, filter *bus.Filter, minGap time.Duration, maxPerSec int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[id] = &subscriberState{
		id:        id,
		callback:  callback,
		filter:    filter,
		minGap:    minGap,
		maxPerSec: maxPerSec,
	}
}

// Unsubscribe removes id. A no-op if id isn't registered.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// UpdateFilter replaces id's filter in place, leaving its rate-control
// state untouched.
func (h *Hub) UpdateFilter(id string, filter *bus.Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		sub.filter = filter
	}
}

// Replay returns ring-buffered events since sinceMs (milliseconds
// since epoch; nil means the full retained window), filtered through
// id's current filter. Returns nil if id isn't registered.
func (h *Hub) Replay(id string, sinceMs *int64) []*event.Event {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	filter := sub.filter
	entries := make([]ringEntry, len(h.ring))
	copy(entries, h.ring)
	h.mu.Unlock()

	out := make([]*event.Event, 0, len(entries))
	for _, entry := range entries {
		if sinceMs != nil && entry.e.Timestamp < *sinceMs {
			continue
		}
		if filter.Matches(entry.e) {
			out = append(out, entry.e)
		}
	}
	return out
}

// Ingest is the delivery entry point, registered on the bus by
// BusSubscribe: it appends e to the replay ring, then delivers to every
// subscriber whose filter/minGap/maxPerSec checks pass, in that order.
// A panicking callback is isolated the same way the bus isolates
// subscriber handlers.
func (h *Hub) Ingest(e *event.Event) {
	now := h.opts.now()

	h.mu.Lock()
	h.ring = append(h.ring, ringEntry{at: now, e: e})

	type delivery struct {
		callback Callback
	}
	var deliveries []delivery

	for _, sub := range h.subscribers {
		if !sub.filter.Matches(e) {
			continue
		}
		if sub.minGap > 0 && !sub.lastSentAt.IsZero() && now.Sub(sub.lastSentAt) < sub.minGap {
			continue
		}
		if sub.maxPerSec > 0 {
			sub.sentAt = pruneBefore(sub.sentAt, now.Add(-time.Second))
			if len(sub.sentAt) >= sub.maxPerSec {
				continue
			}
			sub.sentAt = append(sub.sentAt, now)
		}
		sub.lastSentAt = now
		deliveries = append(deliveries, delivery{callback: sub.callback})
	}
	h.mu.Unlock()

	for _, d := range deliveries {
		h.deliver(d.callback, e)
	}
}

// pruneBefore drops leading entries at or before cutoff, relying on ts
// being in non-decreasing order (entries are only appended by Ingest,
// stamped with the current time).
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	return ts[i:]
}

func (h *Hub) deliver(callback Callback, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.opts.Logger.Error("stream subscriber callback panicked", "panic", r)
		}
	}()
	callback(e)
}

// BusSubscribe registers Hub.Ingest on b for every event.
func (h *Hub) BusSubscribe(b *bus.Bus) string {
	return b.Subscribe("*", func(_ context.Context, e *event.Event) {
		h.Ingest(e)
	}, bus.SubscribeOptions{})
}

// Run starts the sweep goroutine: it prunes ring entries older than
// ReplayWindow and drops each subscriber's delivery timestamps that
// have aged out of the trailing 1-second rate-limit window. It blocks
// until ctx is done or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopSweep:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Stop ends the sweep goroutine started by Run.
func (h *Hub) Stop() {
	close(h.stopSweep)
}

func (h *Hub) sweep() {
	now := h.opts.now()
	cutoff := now.Add(-h.opts.ReplayWindow)

	h.mu.Lock()
	defer h.mu.Unlock()

	i := 0
	for ; i < len(h.ring); i++ {
		if h.ring[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		h.ring = h.ring[i:]
	}

	for _, sub := range h.subscribers {
		if sub.maxPerSec > 0 {
			sub.sentAt = pruneBefore(sub.sentAt, now.Add(-time.Second))
		}
	}
}

// SubscriberCount reports how many subscribers are currently
// registered, for diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
