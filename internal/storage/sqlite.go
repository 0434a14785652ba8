package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the graph and queue tables exist. The path must live on a local
// filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path, "state.path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS elements (
  kind        TEXT NOT NULL,
  id          TEXT NOT NULL,
  visibility  TEXT NOT NULL DEFAULT '',
  filter      JSON NOT NULL DEFAULT '{}',
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL,
  PRIMARY KEY (kind, id)
);`,
		`CREATE TABLE IF NOT EXISTS properties (
  element_kind TEXT NOT NULL,
  element_id   TEXT NOT NULL,
  key          TEXT NOT NULL,
  name         TEXT NOT NULL,
  visibility   TEXT NOT NULL DEFAULT '',
  value        JSON,
  blob_hash    TEXT,
  blob_size    INTEGER,
  hidden       INTEGER NOT NULL DEFAULT 0,
  deleted      INTEGER NOT NULL DEFAULT 0,
  updated_at   TEXT NOT NULL,
  PRIMARY KEY (element_kind, element_id, key, name),
  FOREIGN KEY (element_kind, element_id) REFERENCES elements(kind, id) ON DELETE CASCADE
);`,
		`CREATE TABLE IF NOT EXISTS event_queue (
  id              TEXT PRIMARY KEY,
  stage           TEXT NOT NULL,
  payload         JSON NOT NULL,
  status          TEXT NOT NULL,
  priority        INTEGER NOT NULL DEFAULT 1,
  attempt         INTEGER NOT NULL DEFAULT 1,
  submitted_by    TEXT NOT NULL,
  created_at      TEXT NOT NULL,
  started_at      TEXT,
  completed_at    TEXT,
  last_error      TEXT,
  parent_event_id TEXT
);`,
		`CREATE TABLE IF NOT EXISTS event_log (
  id              TEXT PRIMARY KEY,
  stage           TEXT NOT NULL,
  status          TEXT NOT NULL,
  attempt         INTEGER NOT NULL,
  submitted_by    TEXT NOT NULL,
  created_at      TEXT NOT NULL,
  completed_at    TEXT NOT NULL,
  last_error      TEXT,
  parent_event_id TEXT
);`,
		`CREATE INDEX IF NOT EXISTS event_queue_stage_status_idx ON event_queue(stage, status, priority DESC, created_at);`,
		`CREATE INDEX IF NOT EXISTS properties_blob_hash_idx ON properties(blob_hash);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
