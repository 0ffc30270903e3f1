package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the history schema in-place.
//
// The schema supports:
// - run provenance (source identity, manifest hash, counters, status)
// - structured run events for skipped lines, source errors, and stale sweeps
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS monitor_runs (
			run_id TEXT PRIMARY KEY,
			source_uri TEXT NOT NULL,
			manifest_hash TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			lines_read INTEGER NOT NULL DEFAULT 0,
			events_applied INTEGER NOT NULL DEFAULT 0,
			results_emitted INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			-- open_at_end counts jobs still open when the run finished.
			open_at_end INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_runs_started_at ON monitor_runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_runs_status ON monitor_runs(status);`,

		`CREATE TABLE IF NOT EXISTS run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			category TEXT NOT NULL,
			event_type TEXT NOT NULL,
			object_key TEXT,
			line INTEGER,
			detail TEXT,
			FOREIGN KEY(run_id) REFERENCES monitor_runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_occurred_at ON run_events(occurred_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: add open_at_end for the end-of-run open-jobs report.
	if current < 2 {
		alters := []string{
			`ALTER TABLE monitor_runs ADD COLUMN open_at_end INTEGER NOT NULL DEFAULT 0;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				// SQLite/libsql report duplicate columns as an error; treat as idempotent.
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
