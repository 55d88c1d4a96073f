// Package store is devpulse's embedded event store: a single SQLite
// database holding the durable record of every event that has passed
// through the bus, plus derived activity/metric/stage-transition rows
// and a file-identity cache table fronted by IdentityStore. All writes are serialized through one goroutine so SQLite
// never sees concurrent writers; reads run directly against the pool.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("store: event not found")
	ErrClosed   = errors.New("store: closed")
)

// Status reports the store's operating condition. A store that fails a
// read or write never panics or crashes the process; it degrades and
// reports StatusDegraded so callers can emit a system.storage_degraded
// event instead.
type Status int

// Recognized statuses.
const (
	StatusHealthy Status = iota
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusDegraded {
		return "degraded"
	}
	return "healthy"
}

// writeRequest is one entry on the single-writer queue: apply runs
// against the shared *sql.DB and the result is delivered back on done.
type writeRequest struct {
	apply func(*sql.DB) error
	done  chan error
}

// Store is the embedded event/activity/metric/stage-transition/
// file-identity store.
type Store struct {
	db   *sql.DB
	path string

	writeCh chan writeRequest
	closeCh chan struct{}
	doneCh  chan struct{}

	status Status
}

// Open opens or creates the SQLite database at dbPath, enables WAL
// mode and foreign keys, runs any pending migrations, and starts the
// single-writer goroutine.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{
		db:      db,
		path:    dbPath,
		writeCh: make(chan writeRequest, 256),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	go s.runWriter()

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var version int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// runWriter is the single goroutine permitted to issue write
// statements against db, serializing all mutation per spec.md §5.
func (s *Store) runWriter() {
	defer close(s.doneCh)
	for {
		select {
		case req := <-s.writeCh:
			req.done <- req.apply(s.db)
		case <-s.closeCh:
			return
		}
	}
}

// write submits apply to the writer goroutine and blocks for its
// result, or returns ctx's error if it's cancelled first.
func (s *Store) write(ctx context.Context, apply func(*sql.DB) error) error {
	done := make(chan error, 1)
	select {
	case s.writeCh <- writeRequest{apply: apply, done: done}:
	case <-s.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		if err != nil {
			s.status = StatusDegraded
		} else {
			s.status = StatusHealthy
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the store's current operating condition.
func (s *Store) Status() Status {
	return s.status
}

// Close stops the writer goroutine and closes the underlying database.
func (s *Store) Close() error {
	close(s.closeCh)
	<-s.doneCh
	return s.db.Close()
}

// Append persists e, serialized through the single-writer goroutine.
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("store: marshal data: %w", err)
	}

	var metadata []byte
	var correlationID, parentEventID string
	if e.Metadata != nil {
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshal metadata: %w", err)
		}
		correlationID = e.Metadata.CorrelationID
		parentEventID = e.Metadata.ParentEventID
	}

	return s.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO events (id, type, category, severity, timestamp, source, data, metadata, correlation_id, parent_event_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Type, string(e.Category), string(e.Severity), e.Timestamp, e.Source, string(data), nullableString(metadata), nullableString([]byte(correlationID)), nullableString([]byte(parentEventID)))
		return err
	})
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// TimeRangeFilter narrows FindByTimeRange to a subset of events.
type TimeRangeFilter struct {
	Category event.Category
	Severity event.Severity
	Limit    int
}

// FindByTimeRange returns events with timestamp in [startMs, endMs],
// ordered by timestamp ascending, optionally narrowed by filter. A
// non-zero filter.Limit caps the result to the LIMIT oldest matches in
// that range, not the most recent ones.
func (s *Store) FindByTimeRange(ctx context.Context, startMs, endMs int64, filter *TimeRangeFilter) ([]*event.Event, error) {
	query := `SELECT id, type, category, severity, timestamp, source, data, metadata FROM events WHERE timestamp BETWEEN ? AND ?`
	args := []any{startMs, endMs}

	if filter != nil {
		if filter.Category != "" {
			query += " AND category = ?"
			args = append(args, string(filter.Category))
		}
		if filter.Severity != "" {
			query += " AND severity = ?"
			args = append(args, string(filter.Severity))
		}
	}

	query += " ORDER BY timestamp ASC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.status = StatusDegraded
		return nil, fmt.Errorf("store: query time range: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		s.status = StatusDegraded
		return nil, err
	}

	s.status = StatusHealthy
	return events, nil
}

// FindByID returns the event with the given id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, category, severity, timestamp, source, data, metadata FROM events WHERE id = ?
	`, id)
	if err != nil {
		s.status = StatusDegraded
		return nil, fmt.Errorf("store: query by id: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		s.status = StatusDegraded
		return nil, err
	}

	s.status = StatusHealthy
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var events []*event.Event

	for rows.Next() {
		var e event.Event
		var data, metadata sql.NullString
		var category, severity string

		if err := rows.Scan(&e.ID, &e.Type, &category, &severity, &e.Timestamp, &e.Source, &data, &metadata); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Category = event.Category(category)
		e.Severity = event.Severity(severity)

		if data.Valid && data.String != "" {
			var payload any
			if err := json.Unmarshal([]byte(data.String), &payload); err != nil {
				return nil, fmt.Errorf("store: unmarshal data: %w", err)
			}
			e.Data = payload
		}
		if metadata.Valid && metadata.String != "" {
			var md event.Metadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
			}
			e.Metadata = &md
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

// Stats summarizes the event store's current contents.
type Stats struct {
	TotalEvents      int64
	EventsByCategory map[string]int64
	OldestTimestamp  int64
	NewestTimestamp  int64
}

// Stats computes aggregate counters over the events table.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{EventsByCategory: make(map[string]int64)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0) FROM events
	`)
	if err := row.Scan(&out.TotalEvents, &out.OldestTimestamp, &out.NewestTimestamp); err != nil {
		s.status = StatusDegraded
		return nil, fmt.Errorf("store: stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM events GROUP BY category`)
	if err != nil {
		s.status = StatusDegraded
		return nil, fmt.Errorf("store: stats by category: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			s.status = StatusDegraded
			return nil, fmt.Errorf("store: scan category count: %w", err)
		}
		out.EventsByCategory[category] = count
	}

	s.status = StatusHealthy
	return out, rows.Err()
}

// Prune deletes events (and their dependent activities) older than
// cutoff, returning the number of events removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.write(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Backup writes a consistent snapshot of the database to destination
// using SQLite's VACUUM INTO, which is safe to run against a live
// database without blocking the writer goroutine for more than the
// statement's duration.
func (s *Store) Backup(ctx context.Context, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("store: create backup directory: %w", err)
	}
	return s.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `VACUUM INTO ?`, destination)
		return err
	})
}
