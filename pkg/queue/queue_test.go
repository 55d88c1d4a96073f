package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

func testEvent(severity event.Severity, ts int64) *event.Event {
	return &event.Event{
		ID:        "id",
		Type:      "x",
		Category:  event.CategorySystem,
		Severity:  severity,
		Timestamp: ts,
	}
}

func TestManager_ReservedQueuesExist(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)

	assert.NotNil(t, m.Queue(QueueDefault))
	assert.NotNil(t, m.Queue(QueuePriority))
	assert.NotNil(t, m.Queue(QueueBatch))
	assert.NotNil(t, m.Queue(QueueFailed))
}

func TestManager_CannotRemoveReservedQueue(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	require.ErrorIs(t, m.RemoveQueue(QueueDefault), ErrReservedQueue)
}

func TestManager_CreateAndRemoveQueue(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	require.NoError(t, m.CreateQueue("custom", DefaultConfig()))
	assert.NotNil(t, m.Queue("custom"))

	require.ErrorIs(t, m.CreateQueue("custom", DefaultConfig()), ErrQueueExists)

	require.NoError(t, m.RemoveQueue("custom"))
	assert.Nil(t, m.Queue("custom"))
}

func TestManager_MaxQueuesEnforced(t *testing.T) {
	t.Parallel()

	m := NewManager(4, DefaultConfig(), nil) // 4 reserved queues already fill the budget
	require.ErrorIs(t, m.CreateQueue("custom", DefaultConfig()), ErrMaxQueuesExceeded)
}

func TestRoute_DefaultRuleset(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	m.SetRouting(DefaultRules())

	require.NoError(t, m.Route(context.Background(), testEvent(event.SeverityCritical, 1)))
	assert.Equal(t, 1, m.Queue(QueuePriority).stats().Pending)

	require.NoError(t, m.Route(context.Background(), testEvent(event.SeverityInfo, 2)))
	assert.Equal(t, 1, m.Queue(QueueDefault).stats().Pending)
}

func TestRoute_IsDeterministic(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	m.SetRouting(DefaultRules())

	e := testEvent(event.SeverityCritical, 1)
	for range 5 {
		require.NoError(t, m.Route(context.Background(), e))
	}
	assert.Equal(t, 5, m.Queue(QueuePriority).stats().Pending)
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxSize = 3
	cfg.MaxBytes = 0

	var droppedName string
	var dropped *Entry

	m := NewManager(10, cfg, func(name string, e *Entry) {
		droppedName = name
		dropped = e
	})

	for ts := int64(1); ts <= 4; ts++ {
		require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, ts)))
	}

	stats := m.Queue(QueueDefault).stats()
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, int64(1), stats.DroppedCount)
	assert.Equal(t, QueueDefault, droppedName)
	require.NotNil(t, dropped)
	assert.Equal(t, int64(1), dropped.Event.Timestamp)
}

func TestQueue_FlushProcessesBatch(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, 1)))
	require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, 2)))

	var processed int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.SetProcessor(ctx, QueueDefault, func(_ context.Context, entries []*Entry) ([]*Entry, error) {
		processed += len(entries)
		return nil, nil
	}))

	require.NoError(t, m.FlushAll(context.Background()))

	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, m.Queue(QueueDefault).stats().Pending)
}

func TestQueue_RetryThenExhaustMovesToFailed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 2

	m := NewManager(10, cfg, nil)
	require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, 1)))

	errProcessing := errors.New("boom")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.SetProcessor(ctx, QueueDefault, func(_ context.Context, entries []*Entry) ([]*Entry, error) {
		return entries, errProcessing
	}))

	for range 3 {
		require.NoError(t, m.FlushAll(context.Background()))
		// A failed entry is not ready again until its backoff (at most
		// 1.3s after the first attempt) has passed.
		time.Sleep(1400 * time.Millisecond)
	}

	assert.Equal(t, 0, m.Queue(QueueDefault).stats().Pending)
	assert.Equal(t, 1, m.Queue(QueueFailed).stats().Pending)
}

func TestQueue_ProcessorlessFlushRequeues(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, 1)))

	require.NoError(t, m.FlushAll(context.Background()))
	assert.Equal(t, 1, m.Queue(QueueDefault).stats().Pending)
}

func TestManager_Stats(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	require.NoError(t, m.Enqueue(QueueDefault, testEvent(event.SeverityInfo, 1)))

	stats := m.Stats()
	assert.Len(t, stats, 4)
}

func TestJitteredBackoff_NeverNegative(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 10; attempt++ {
		assert.Positive(t, jitteredBackoff(attempt))
	}
}

func TestQueueWorker_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(10, DefaultConfig(), nil)
	q := m.Queue(QueueDefault)

	ctx, cancel := context.WithCancel(context.Background())
	q.SetProcessor(ctx, func(_ context.Context, entries []*Entry) ([]*Entry, error) { return nil, nil }, nil)

	cancel()
	time.Sleep(10 * time.Millisecond)
	q.stop()
	q.stop()
}
