package commands

import (
	"context"
	"log/slog"

	"github.com/sumatoshi-tech/devpulse/pkg/queue"
	"github.com/sumatoshi-tech/devpulse/pkg/store"
)

// storeProcessor builds a queue.Processor that persists each entry's
// event via Append, returning entries whose append failed so the
// queue's retry/dead-letter path handles them instead of silently
// dropping the write.
func storeProcessor(st *store.Store, logger *slog.Logger) queue.Processor {
	return func(ctx context.Context, entries []*queue.Entry) ([]*queue.Entry, error) {
		var failed []*queue.Entry

		for _, entry := range entries {
			if err := st.Append(ctx, entry.Event); err != nil {
				logger.Warn("store append failed", slog.String("event_id", entry.Event.ID), slog.String("error", err.Error()))
				failed = append(failed, entry)
			}
		}

		return failed, nil
	}
}
