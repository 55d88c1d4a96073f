package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is one named, bounded, batch-processing lane. Entries arrive
// via push; once a Processor is installed, a worker goroutine flushes
// on every Config.FlushInterval tick, handing up to Config.BatchSize
// ready entries to the Processor per tick. Reaching Config.BatchSize
// does not trigger a flush before the next tick. Failed entries are retried with jittered
// exponential backoff until Config.MaxAttempts is reached, at which
// point they move to the manager's "failed" queue (via onExhausted).
type Queue struct {
	name string
	cfg  Config

	mu       sync.Mutex
	pending  []*Entry
	byteSize int64

	droppedCount atomic.Int64

	onDropped   DroppedHook
	processor   Processor
	onExhausted func(*Entry)

	stopCh chan struct{}
	doneCh chan struct{}
}

func newQueue(name string, cfg Config, onDropped DroppedHook) *Queue {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}

	q := &Queue{
		name:      name,
		cfg:       cfg,
		onDropped: onDropped,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	close(q.doneCh) // no worker running until SetProcessor starts one

	return q
}

// SetProcessor installs the batch handler and starts the worker
// goroutine that drives it. onExhausted is invoked for an entry whose
// retry attempts are exhausted, so the manager can redirect it to the
// failed queue.
func (q *Queue) SetProcessor(ctx context.Context, proc Processor, onExhausted func(*Entry)) {
	q.mu.Lock()
	q.processor = proc
	q.onExhausted = onExhausted
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			_ = q.flush(ctx)
		}
	}
}

func (q *Queue) stop() {
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
	<-q.doneCh
}

// push appends e to the pending list, evicting the oldest pending entry
// if cfg.MaxSize/MaxBytes would otherwise be exceeded.
func (q *Queue) push(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxBytes > 0 && q.byteSize+e.byteSize > q.cfg.MaxBytes && len(q.pending) == 0 {
		return ErrQueueFull
	}

	for (q.cfg.MaxSize > 0 && len(q.pending) >= q.cfg.MaxSize) ||
		(q.cfg.MaxBytes > 0 && q.byteSize+e.byteSize > q.cfg.MaxBytes) {
		if len(q.pending) == 0 {
			return ErrQueueFull
		}
		q.evictOldestLocked()
	}

	q.pending = append(q.pending, e)
	q.byteSize += e.byteSize

	return nil
}

func (q *Queue) evictOldestLocked() {
	victim := q.pending[0]
	q.pending = q.pending[1:]
	q.byteSize -= victim.byteSize
	q.droppedCount.Add(1)

	if q.onDropped != nil {
		q.onDropped(q.name, victim)
	}
}

// flush hands up to cfg.BatchSize pending entries to the processor,
// retrying failures with backoff and escalating exhausted entries via
// onExhausted.
func (q *Queue) flush(ctx context.Context) error {
	batch := q.takeBatch()
	if len(batch) == 0 {
		return nil
	}

	if q.processor == nil {
		q.requeue(batch)
		return nil
	}

	procCtx := ctx
	var cancel context.CancelFunc
	if q.cfg.ProcessTimeout > 0 {
		procCtx, cancel = context.WithTimeout(ctx, q.cfg.ProcessTimeout)
		defer cancel()
	}

	for _, entry := range batch {
		entry.State = StateProcessing
	}

	failed, err := q.processor(procCtx, batch)
	if err != nil {
		// Processor-level failure: treat the whole batch as failed per
		// spec.md §5's "partial failure of a batch moves only the
		// failing entries to retry/DLQ" — a processor error with no
		// explicit failed list means none of the batch succeeded.
		if failed == nil {
			failed = batch
		}
	}

	failedSet := make(map[*Entry]struct{}, len(failed))
	for _, entry := range failed {
		failedSet[entry] = struct{}{}
	}

	for _, entry := range batch {
		if _, isFailed := failedSet[entry]; !isFailed {
			entry.State = StateDone
			continue
		}
		q.retryOrExhaust(entry)
	}

	return nil
}

func (q *Queue) retryOrExhaust(entry *Entry) {
	entry.Attempts++

	if entry.Attempts >= q.cfg.MaxAttempts {
		entry.State = StateFailed
		if q.onExhausted != nil {
			q.onExhausted(entry)
		}
		return
	}

	entry.State = StatePending
	entry.NextAttemptAt = time.Now().Add(jitteredBackoff(entry.Attempts))

	q.mu.Lock()
	q.pending = append(q.pending, entry)
	q.byteSize += entry.byteSize
	q.mu.Unlock()
}

func (q *Queue) requeue(batch []*Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range batch {
		entry.State = StatePending
		q.pending = append(q.pending, entry)
		q.byteSize += entry.byteSize
	}
}

func (q *Queue) takeBatch() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	ready := make([]*Entry, 0, len(q.pending))
	notReady := make([]*Entry, 0, len(q.pending))

	for _, entry := range q.pending {
		if entry.NextAttemptAt.IsZero() || !entry.NextAttemptAt.After(now) {
			ready = append(ready, entry)
		} else {
			notReady = append(notReady, entry)
		}
	}

	batchSize := q.cfg.BatchSize
	if batchSize <= 0 || batchSize > len(ready) {
		batchSize = len(ready)
	}

	taken := ready[:batchSize]
	leftover := ready[batchSize:]

	remaining := make([]*Entry, 0, len(leftover)+len(notReady))
	remaining = append(remaining, leftover...)
	remaining = append(remaining, notReady...)

	var takenSize int64
	for _, entry := range taken {
		takenSize += entry.byteSize
	}

	q.pending = remaining
	q.byteSize -= takenSize

	return taken
}

func (q *Queue) stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	processing := 0
	for _, entry := range q.pending {
		if entry.State == StateProcessing {
			processing++
		}
	}

	return Stats{
		Name:         q.name,
		Pending:      len(q.pending),
		Processing:   processing,
		DroppedCount: q.droppedCount.Load(),
		ByteSize:     q.byteSize,
	}
}
