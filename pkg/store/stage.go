package store

import (
	"context"
	"database/sql"
	"time"
)

// RecordTransition persists one stage transition row, serialized through
// the single-writer goroutine like every other write.
func (s *Store) RecordTransition(ctx context.Context, fromStage, toStage string, at time.Time, confidence float64, reason string) error {
	return s.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO stage_transitions (from_stage, to_stage, timestamp, confidence, reason)
			VALUES (?, ?, ?, ?, ?)
		`, nullableString([]byte(fromStage)), toStage, at.UnixMilli(), confidence, nullableString([]byte(reason)))
		return err
	})
}
