// Package monitor provides the restart-with-backoff supervisor shared
// by the file and git monitors: when a monitor's run loop returns an
// error, the supervisor waits with exponential backoff and restarts it,
// up to a configured ceiling, emitting system.monitor_restart /
// system.monitor_fatal notifications along the way.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrFatal should be returned (wrapped) by a Runnable's Run method to
// signal that the failure is unrecoverable and the supervisor should
// stop retrying rather than back off again.
var ErrFatal = errors.New("monitor: unrecoverable failure")

// Runnable is one supervised monitor loop. Run should block until ctx
// is cancelled or an error occurs; a nil return means clean shutdown.
type Runnable func(ctx context.Context) error

// Notifier is invoked on restart and fatal-stop events so the caller
// can publish system.monitor_restart / system.monitor_fatal onto the
// bus without the supervisor importing pkg/bus directly.
type Notifier interface {
	MonitorRestarting(name string, attempt int, err error, backoff time.Duration)
	MonitorFatal(name string, err error)
}

const (
	// DefaultMaxRetries bounds restart attempts before giving up.
	DefaultMaxRetries = 5

	backoffBase       = time.Second
	backoffMultiplier = 2
	backoffCeiling    = 2 * time.Minute
	jitterFraction    = 0.2
)

// Supervisor restarts a Runnable with exponential backoff until the
// retry ceiling is hit or a fatal error is returned.
type Supervisor struct {
	Name       string
	MaxRetries int
	Logger     *slog.Logger
	Notifier   Notifier

	mu           sync.Mutex
	stalledCount int
}

// NewSupervisor constructs a Supervisor for the named monitor.
func NewSupervisor(name string, notifier Notifier, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Name:       name,
		MaxRetries: DefaultMaxRetries,
		Logger:     logger,
		Notifier:   notifier,
	}
}

// Run executes fn, restarting it with backoff on error until ctx is
// cancelled, MaxRetries is exhausted, or fn returns an error wrapping
// ErrFatal. Returns the last error, or nil on clean (context-cancelled)
// shutdown.
func (s *Supervisor) Run(ctx context.Context, fn Runnable) error {
	attempt := 0

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrFatal) {
			s.logger().Error("monitor stopped: unrecoverable",
				slog.String("monitor", s.Name), slog.String("error", err.Error()))
			if s.Notifier != nil {
				s.Notifier.MonitorFatal(s.Name, err)
			}
			return err
		}

		attempt++
		if attempt > s.maxRetries() {
			fatalErr := fmt.Errorf("%w: %s exceeded %d restart attempts: %w", ErrFatal, s.Name, s.maxRetries(), err)
			s.logger().Error("monitor stopped: retries exhausted",
				slog.String("monitor", s.Name), slog.Int("attempts", attempt))
			if s.Notifier != nil {
				s.Notifier.MonitorFatal(s.Name, fatalErr)
			}
			return fatalErr
		}

		backoff := s.backoffFor(attempt)

		s.mu.Lock()
		s.stalledCount++
		s.mu.Unlock()

		s.logger().Warn("monitor restarting",
			slog.String("monitor", s.Name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if s.Notifier != nil {
			s.Notifier.MonitorRestarting(s.Name, attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// RestartCount returns the total number of restarts attempted so far.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalledCount
}

func (s *Supervisor) maxRetries() int {
	if s.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return s.MaxRetries
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// backoffFor returns the exponential-with-jitter backoff for the given
// 1-indexed attempt, capped at backoffCeiling.
func (s *Supervisor) backoffFor(attempt int) time.Duration {
	dur := backoffBase
	for range attempt - 1 {
		dur *= backoffMultiplier
		if dur >= backoffCeiling {
			dur = backoffCeiling
			break
		}
	}

	jitter := time.Duration(float64(dur) * jitterFraction * (rand.Float64()*2 - 1))
	dur += jitter
	if dur < 0 {
		dur = backoffBase
	}

	return dur
}
