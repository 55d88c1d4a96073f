package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

func newTestHub(clock *time.Time) *Hub {
	return New(Options{now: func() time.Time { return *clock }})
}

func gitEvent() *event.Event {
	return event.New("git:commit", event.CategoryGit, event.SeverityInfo, "gitmon", &event.GitPayload{
		Action: event.GitActionCommit,
	})
}

type collector struct {
	mu   sync.Mutex
	recv []*event.Event
}

func (c *collector) callback(e *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recv = append(c.recv, e)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recv)
}

func TestHub_FilterMatch(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := newTestHub(&clock)

	var c collector
	h.Subscribe("sub1", c.callback, &bus.Filter{Categories: []event.Category{event.CategoryFile}}, 0, 0)

	h.Ingest(gitEvent())
	assert.Equal(t, 0, c.count())
}

func TestHub_MinGap(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := newTestHub(&clock)

	var c collector
	h.Subscribe("sub1", c.callback, nil, 5*time.Second, 0)

	h.Ingest(gitEvent())
	clock = clock.Add(2 * time.Second)
	h.Ingest(gitEvent())
	clock = clock.Add(4 * time.Second)
	h.Ingest(gitEvent())

	assert.Equal(t, 2, c.count())
}

func TestHub_MaxPerSec(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := newTestHub(&clock)

	var c collector
	h.Subscribe("sub1", c.callback, nil, 0, 2)

	h.Ingest(gitEvent())
	h.Ingest(gitEvent())
	h.Ingest(gitEvent())
	assert.Equal(t, 2, c.count(), "third delivery within the same instant is capped")

	// A sweep at the same instant must not manufacture capacity: the
	// cap holds over any rolling 1-second window, not a once-per-sweep
	// reset.
	h.sweep()
	h.Ingest(gitEvent())
	assert.Equal(t, 2, c.count(), "sweep alone does not refill capacity before the window has elapsed")

	clock = clock.Add(time.Second)
	h.Ingest(gitEvent())
	assert.Equal(t, 3, c.count(), "capacity reopens once the earliest delivery ages out of the rolling window")
}

// TestHub_MaxPerSec_RollingWindowNotFixedWindow mirrors the scenario a
// periodic fixed-window reset would get wrong: two deliveries just
// before a sweep boundary and two more just after must still total no
// more than maxPerSec within any trailing 1-second span.
func TestHub_MaxPerSec_RollingWindowNotFixedWindow(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := newTestHub(&clock)

	var c collector
	h.Subscribe("sub1", c.callback, nil, 0, 2)

	clock = clock.Add(900 * time.Millisecond)
	h.Ingest(gitEvent())
	h.Ingest(gitEvent())
	assert.Equal(t, 2, c.count())

	h.sweep()

	clock = clock.Add(200 * time.Millisecond) // now at +1.1s
	h.Ingest(gitEvent())
	h.Ingest(gitEvent())

	// The +0.9s deliveries are still inside the rolling window ending
	// at +1.1s, so both +1.1s attempts must be capped: a periodic
	// fixed-window reset would have let all 4 through instead.
	assert.Equal(t, 2, c.count())
}

func TestHub_ReplayAndSweepPrune(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := New(Options{ReplayWindow: time.Minute, now: func() time.Time { return clock }})

	h.Subscribe("sub1", func(*event.Event) {}, nil, 0, 0)
	h.Ingest(gitEvent())

	out := h.Replay("sub1", nil)
	require.Len(t, out, 1)

	clock = clock.Add(2 * time.Minute)
	h.sweep()

	out = h.Replay("sub1", nil)
	assert.Empty(t, out)
}

func TestHub_UpdateFilterAndUnsubscribe(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	h := newTestHub(&clock)

	var c collector
	h.Subscribe("sub1", c.callback, &bus.Filter{Categories: []event.Category{event.CategoryFile}}, 0, 0)
	h.Ingest(gitEvent())
	assert.Equal(t, 0, c.count())

	h.UpdateFilter("sub1", nil)
	h.Ingest(gitEvent())
	assert.Equal(t, 1, c.count())

	h.Unsubscribe("sub1")
	h.Ingest(gitEvent())
	assert.Equal(t, 1, c.count())
}
