package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/cache"
)

// IdentityStore fronts the file_monitor_cache table with an in-memory
// pkg/cache.IdentityCache, so a repeated lookup of the same path does
// not hit SQLite: a hit in the LRU skips the DB entirely, and
// only a miss falls through to a row lookup (which then repopulates the
// LRU). Writes go to both the LRU and the table so a cold-started
// process still sees the cache's prior contents.
type IdentityStore struct {
	db    *sql.DB
	write func(ctx context.Context, apply func(*sql.DB) error) error
	lru   *cache.IdentityCache
}

// NewIdentityStore builds an IdentityStore backed by s and an LRU of
// the given size.
func (s *Store) NewIdentityStore(lruSize int) *IdentityStore {
	return &IdentityStore{
		db:    s.db,
		write: s.write,
		lru:   cache.NewIdentityCache(lruSize),
	}
}

// Lookup returns the last known identity for path, checking the LRU
// first and falling back to the table on a miss.
func (is *IdentityStore) Lookup(ctx context.Context, path string) (cache.Identity, bool, error) {
	if id, ok := is.lru.Get(path); ok {
		return id, true, nil
	}

	row := is.db.QueryRowContext(ctx, `
		SELECT size, mod_time, content_hash FROM file_monitor_cache WHERE path = ?
	`, path)

	var id cache.Identity
	var modTimeUnix int64
	if err := row.Scan(&id.Size, &modTimeUnix, &id.ContentHash); err != nil {
		if err == sql.ErrNoRows {
			return cache.Identity{}, false, nil
		}
		return cache.Identity{}, false, fmt.Errorf("store: lookup identity: %w", err)
	}
	id.ModTime = time.UnixMilli(modTimeUnix)

	is.lru.Put(path, id)
	return id, true, nil
}

// Record upserts path's identity into both the LRU and the table.
func (is *IdentityStore) Record(ctx context.Context, path string, id cache.Identity) error {
	is.lru.Put(path, id)

	return is.write(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO file_monitor_cache (path, size, mod_time, content_hash, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time,
				content_hash = excluded.content_hash, updated_at = excluded.updated_at
		`, path, id.Size, id.ModTime.UnixMilli(), id.ContentHash, time.Now().UnixMilli())
		return err
	})
}

// Stats reports the LRU's hit/miss counters.
func (is *IdentityStore) Stats() cache.Stats {
	return is.lru.Stats()
}
