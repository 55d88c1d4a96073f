package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

func fileEvent(t *testing.T) *event.Event {
	t.Helper()
	return &event.Event{
		Type:     "file:changed",
		Category: event.CategoryFile,
		Severity: event.SeverityInfo,
		Source:   "file-mon",
		Data: event.FilePayload{
			Action:     event.FileActionModify,
			Extension:  ".go",
			ContextTag: event.ContextTagSource,
		},
	}
}

func TestPublish_AssignsIDAndDispatches(t *testing.T) {
	t.Parallel()

	b := New()

	var received *event.Event
	b.Subscribe("file:changed", func(_ context.Context, e *event.Event) {
		received = e
	}, SubscribeOptions{})

	result, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	require.NotNil(t, received)
	assert.NotEmpty(t, received.ID)
}

func TestPublish_WildcardMatchesEverything(t *testing.T) {
	t.Parallel()

	b := New()

	count := 0
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { count++ }, SubscribeOptions{})

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPublish_PriorityOrdering(t *testing.T) {
	t.Parallel()

	b := New()

	var order []int
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { order = append(order, 1) }, SubscribeOptions{Priority: 1})
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { order = append(order, 2) }, SubscribeOptions{Priority: 5})
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { order = append(order, 3) }, SubscribeOptions{Priority: 3})

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, order)
}

func TestPublish_InvalidEventRejected(t *testing.T) {
	t.Parallel()

	b := New()

	e := &event.Event{Type: "", Category: event.CategoryFile}
	_, err := b.Publish(context.Background(), e, PublishOptions{})
	require.ErrorIs(t, err, event.ErrInvalidEvent)
}

func TestPublish_InvalidPayloadRejected(t *testing.T) {
	t.Parallel()

	b := New()

	e := &event.Event{
		Type:     "file:changed",
		Category: event.CategoryFile,
		Data:     map[string]any{"extension": ".go"},
	}
	_, err := b.Publish(context.Background(), e, PublishOptions{})
	require.ErrorIs(t, err, event.ErrInvalidEvent)
}

func TestPublish_SubscriberPanicIsolated(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var errs []error

	b := New(WithSubscriberErrorHook(func(_ context.Context, _ string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	secondRan := false
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { panic("boom") }, SubscribeOptions{Priority: 5})
	b.Subscribe("*", func(_ context.Context, _ *event.Event) { secondRan = true }, SubscribeOptions{Priority: 1})

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)
	assert.True(t, secondRan)

	mu.Lock()
	assert.Len(t, errs, 1)
	mu.Unlock()
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()

	count := 0
	id := b.Subscribe("*", func(_ context.Context, _ *event.Event) { count++ }, SubscribeOptions{})

	require.NoError(t, b.Unsubscribe(id))

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)
	assert.Zero(t, count)

	require.ErrorIs(t, b.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestStats_TracksCounts(t *testing.T) {
	t.Parallel()

	b := New()

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{})
	require.NoError(t, err)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.PerCategory[event.CategoryFile])
	assert.Equal(t, int64(1), stats.PerSeverity[event.SeverityInfo])
	assert.Equal(t, int64(1), stats.EventsPerHour)
}

type stubRouter struct {
	routed []*event.Event
}

func (s *stubRouter) Route(_ context.Context, e *event.Event) error {
	s.routed = append(s.routed, e)
	return nil
}

func TestPublish_RoutesToQueueWhenUseQueue(t *testing.T) {
	t.Parallel()

	router := &stubRouter{}
	b := New(WithRouter(router))

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{UseQueue: true})
	require.NoError(t, err)
	assert.Len(t, router.routed, 1)
}

func TestPublish_SkipsQueueWhenNotRequested(t *testing.T) {
	t.Parallel()

	router := &stubRouter{}
	b := New(WithRouter(router))

	_, err := b.Publish(context.Background(), fileEvent(t), PublishOptions{UseQueue: false})
	require.NoError(t, err)
	assert.Empty(t, router.routed)
}
