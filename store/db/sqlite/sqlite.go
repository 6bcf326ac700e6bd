// Package sqlite implements store.Driver against SQLite via
// modernc.org/sqlite (pure Go, no CGO). Adapted from the teacher's
// store/db/sqlite.DB: same pragma bootstrap and single-connection WAL
// pool sizing, with the vector-extension loading dropped (see
// DESIGN.md) since this domain has no vector workload.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/tanjeetsarkar/workflowengine/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens dsn (a SQLite file path or ":memory:") and ensures the
// schema exists.
func NewDB(ctx context.Context, dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	// SQLite: single connection is optimal with WAL mode for a local
	// engine process (no network round trips to amortize).
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	d := &DB{db: sqlDB}
	if err := d.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graphs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL REFERENCES graphs(id) ON DELETE CASCADE,
			node_key TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{"kind":"null"}',
			timeout_seconds INTEGER NOT NULL DEFAULT 300,
			ordinal INTEGER NOT NULL,
			UNIQUE (graph_id, node_key)
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL REFERENCES graphs(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			condition TEXT NOT NULL,
			ordinal INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL REFERENCES graphs(id),
			status TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{"kind":"null"}',
			started_at DATETIME,
			completed_at DATETIME,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL REFERENCES nodes(id),
			status TEXT NOT NULL,
			input_data TEXT NOT NULL DEFAULT '{"kind":"null"}',
			output_data TEXT NOT NULL DEFAULT '{"kind":"null"}',
			error_message TEXT NOT NULL DEFAULT '',
			started_at DATETIME,
			completed_at DATETIME,
			runner_task_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_execution ON node_executions(execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}
