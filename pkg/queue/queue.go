// Package queue implements devpulse's named queues: bounded,
// batch-processing, retry-with-backoff channels that sit between the
// event bus and the durable store/analyzer workers. Four named queues
// always exist (default, priority, batch, failed); operators may
// define more up to a configured maximum.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Reserved queue names. Default, Priority, and Batch feed Processors;
// Failed is the terminal dead-letter queue and accepts no Processor.
const (
	QueueDefault  = "default"
	QueuePriority = "priority"
	QueueBatch    = "batch"
	QueueFailed   = "failed"
)

// Sentinel errors.
var (
	ErrQueueFull          = errors.New("queue: byte budget exceeded")
	ErrQueueExists        = errors.New("queue: already exists")
	ErrQueueNotFound      = errors.New("queue: not found")
	ErrReservedQueue      = errors.New("queue: cannot remove reserved queue")
	ErrMaxQueuesExceeded  = errors.New("queue: maximum queue count exceeded")
)

// State is the lifecycle state of a queue entry.
type State string

// Recognized entry states.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Entry wraps an event as it moves through a queue.
type Entry struct {
	Event         *event.Event
	EnqueuedAt    time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	State         State

	byteSize int64
}

func newEntry(e *event.Event) *Entry {
	return &Entry{
		Event:      e,
		EnqueuedAt: time.Now(),
		State:      StatePending,
		byteSize:   estimateSize(e),
	}
}

func estimateSize(e *event.Event) int64 {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// Processor handles a batch of entries. Entries returned in failed are
// retried (or moved to the dead-letter queue on attempt exhaustion);
// all others are considered done.
type Processor func(ctx context.Context, entries []*Entry) (failed []*Entry, err error)

// Config tunes a single queue's behavior.
type Config struct {
	MaxSize         int
	MaxBytes        int64
	BatchSize       int
	FlushInterval   time.Duration
	MaxAttempts     int
	ProcessTimeout  time.Duration
}

// DefaultConfig returns sane defaults for an operator-defined queue.
func DefaultConfig() Config {
	return Config{
		MaxSize:        10_000,
		MaxBytes:       64 * 1024 * 1024,
		BatchSize:      50,
		FlushInterval:  500 * time.Millisecond,
		MaxAttempts:    5,
		ProcessTimeout: 10 * time.Second,
	}
}

// DroppedHook is invoked whenever a queue evicts its oldest pending
// entry to make room for a new one (system.queue_dropped).
type DroppedHook func(queueName string, dropped *Entry)

// Manager owns the set of named queues and routes entries into them.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	maxQty int
	rules  []Rule

	onDropped DroppedHook
}

// NewManager constructs a Manager with the four reserved queues already
// created using defaultCfg, enforcing at most maxQueues total queues.
func NewManager(maxQueues int, defaultCfg Config, onDropped DroppedHook) *Manager {
	m := &Manager{
		queues:    make(map[string]*Queue),
		maxQty:    maxQueues,
		onDropped: onDropped,
	}

	for _, name := range []string{QueueDefault, QueuePriority, QueueBatch, QueueFailed} {
		m.queues[name] = newQueue(name, defaultCfg, m.onDropped)
	}

	return m
}

// CreateQueue adds an operator-defined queue. Fails if name already
// exists or the maximum queue count would be exceeded.
func (m *Manager) CreateQueue(name string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[name]; exists {
		return fmt.Errorf("%w: %s", ErrQueueExists, name)
	}
	if m.maxQty > 0 && len(m.queues) >= m.maxQty {
		return ErrMaxQueuesExceeded
	}

	m.queues[name] = newQueue(name, cfg, m.onDropped)
	return nil
}

// RemoveQueue deletes an operator-defined queue. Reserved queues cannot
// be removed.
func (m *Manager) RemoveQueue(name string) error {
	if isReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedQueue, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, exists := m.queues[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	q.stop()
	delete(m.queues, name)
	return nil
}

// Queue returns the named queue, or nil if it does not exist.
func (m *Manager) Queue(name string) *Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queues[name]
}

func isReserved(name string) bool {
	switch name {
	case QueueDefault, QueuePriority, QueueBatch, QueueFailed:
		return true
	default:
		return false
	}
}

// Enqueue pushes e onto the named queue, evicting the oldest pending
// entry on overflow. Returns ErrQueueFull if the byte budget is
// exhausted even after eviction, and ErrQueueNotFound if name is
// unrecognized.
func (m *Manager) Enqueue(name string, e *event.Event) error {
	q := m.Queue(name)
	if q == nil {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q.push(newEntry(e))
}

// SetProcessor installs proc as the batch handler for the named queue
// and starts its worker. Entries that exhaust their retry attempts are
// moved onto the failed queue automatically, except for the failed
// queue itself, which has no retry path.
func (m *Manager) SetProcessor(ctx context.Context, name string, proc Processor) error {
	q := m.Queue(name)
	if q == nil {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}

	var onExhausted func(*Entry)
	if name != QueueFailed {
		onExhausted = func(entry *Entry) {
			_ = m.Enqueue(QueueFailed, entry.Event)
		}
	}

	q.SetProcessor(ctx, proc, onExhausted)
	return nil
}

// FlushAll synchronously drains every queue through its Processor,
// flushing each queue batch after batch while its pending list keeps
// shrinking. Entries still waiting out a retry backoff stay pending,
// as do the entries of a queue without a Processor.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.RLock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	for _, q := range queues {
		for {
			before := q.stats().Pending
			if before == 0 {
				break
			}
			if err := q.flush(ctx); err != nil {
				return err
			}
			if q.stats().Pending >= before {
				break
			}
		}
	}
	return nil
}

// Stats reports per-queue counters.
type Stats struct {
	Name         string
	Pending      int
	Processing   int
	DroppedCount int64
	ByteSize     int64
}

// Stats returns a snapshot for every registered queue.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q.stats())
	}
	return out
}

func jitteredBackoff(attempt int) time.Duration {
	base := time.Second
	dur := base
	for range attempt - 1 {
		dur *= 2
		if dur > time.Minute {
			dur = time.Minute
			break
		}
	}
	jitter := time.Duration(float64(dur) * 0.3 * rand.Float64())
	return dur + jitter
}
