package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu        sync.Mutex
	restarts  int
	fatalErrs []error
}

func (r *recordingNotifier) MonitorRestarting(_ string, _ int, _ error, _ time.Duration) {
	r.mu.Lock()
	r.restarts++
	r.mu.Unlock()
}

func (r *recordingNotifier) MonitorFatal(_ string, err error) {
	r.mu.Lock()
	r.fatalErrs = append(r.fatalErrs, err)
	r.mu.Unlock()
}

func TestSupervisor_CleanShutdownOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor("test", nil, nil)

	cancel()
	err := s.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, err)
}

func TestSupervisor_RestartsOnTransientError(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	s := &Supervisor{Name: "test", MaxRetries: 5, Notifier: notifier}

	calls := 0
	errTransient := errors.New("transient")

	// Two restarts back off about 1s and 2s (each up to +20%), so the
	// third call lands by 3.6s at the latest.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = s.Run(ctx, func(_ context.Context) error {
		calls++
		if calls >= 3 {
			cancel()
			return nil
		}
		return errTransient
	})

	assert.GreaterOrEqual(t, calls, 3)
	assert.Positive(t, notifier.restarts)
}

func TestSupervisor_FatalErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	s := &Supervisor{Name: "test", MaxRetries: 5, Notifier: notifier}

	calls := 0
	err := s.Run(context.Background(), func(_ context.Context) error {
		calls++
		return fmt.Errorf("wrapped: %w", ErrFatal)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, notifier.fatalErrs, 1)
}

func TestSupervisor_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	s := &Supervisor{Name: "test", MaxRetries: 2, Notifier: notifier}

	errTransient := errors.New("transient")
	calls := 0

	err := s.Run(context.Background(), func(_ context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	require.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, 3, calls) // initial + 2 retries
	assert.Len(t, notifier.fatalErrs, 1)
}
