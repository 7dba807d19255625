package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema. The schema is small enough to apply in
// one statement batch; a migration tool would be overkill for a local
// single-user database.
func (db *DB) RunMigrations() error {
	migration := `
-- Admitted captures
CREATE TABLE capture_records (
    id TEXT PRIMARY KEY,
    source_key TEXT NOT NULL,
    captured_at TIMESTAMP NOT NULL,
    app_hint TEXT,
    window_title TEXT,
    fingerprint INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_capture_source ON capture_records(source_key);
CREATE INDEX idx_capture_time ON capture_records(captured_at);

-- Activity threads
CREATE TABLE threads (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    current_phase TEXT,
    current_focus TEXT,
    main_project TEXT,
    status TEXT NOT NULL CHECK(status IN ('active', 'inactive', 'closed')),
    start_time TIMESTAMP NOT NULL,
    last_active_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    node_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_thread_status ON threads(status);
CREATE INDEX idx_thread_last_active ON threads(last_active_at);

-- Extracted context nodes
CREATE TABLE nodes (
    id TEXT PRIMARY KEY,
    thread_id TEXT,
    kind TEXT NOT NULL CHECK(kind IN ('event', 'knowledge', 'state')),
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    keywords TEXT,
    entities TEXT,
    subject TEXT,
    detail TEXT,
    event_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (thread_id) REFERENCES threads(id)
);
CREATE INDEX idx_node_thread ON nodes(thread_id);
CREATE INDEX idx_node_event_time ON nodes(event_time);

-- Reasoning call traces
CREATE TABLE reasoning_traces (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt TEXT,
    response TEXT,
    duration_ms INTEGER NOT NULL,
    success INTEGER NOT NULL,
    error TEXT,
    occurred_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_trace_occurred ON reasoning_traces(occurred_at);

-- Token usage log
CREATE TABLE usage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model TEXT NOT NULL,
    operation TEXT NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    success INTEGER NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_usage_model ON usage_events(model);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
