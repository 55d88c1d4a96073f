package store

// migration pairs a monotonically increasing version and a short name
// with the SQL that moves the schema to it. Applied in order, skipping
// versions already recorded in the migrations table, mirroring the
// Factory board's migration runner.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "core_event_plane", migration1},
}

// Migration 1: core event-plane tables.
const migration1 = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	category TEXT NOT NULL,
	severity TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	source TEXT NOT NULL,
	data TEXT,
	metadata TEXT,
	correlation_id TEXT,
	parent_event_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_category_timestamp ON events(category, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_timestamp ON events(type, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	category TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	summary TEXT,
	FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_activities_category ON activities(category, started_at);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	value REAL NOT NULL,
	tags TEXT
);

CREATE INDEX IF NOT EXISTS idx_metrics_name_timestamp ON metrics(name, timestamp);

CREATE TABLE IF NOT EXISTS stage_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_stage TEXT,
	to_stage TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	confidence REAL NOT NULL,
	reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_stage_transitions_timestamp ON stage_transitions(timestamp);

CREATE TABLE IF NOT EXISTS file_monitor_cache (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mod_time INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`
