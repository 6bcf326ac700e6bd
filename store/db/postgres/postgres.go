// Package postgres implements store.Driver against PostgreSQL via
// github.com/lib/pq, grounded in the teacher's store/db/postgres
// package: a thin DB struct wrapping *sql.DB, $N placeholders built by
// placeholder/placeholders, and github.com/pkg/errors wrapping on every
// query.
package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens a connection pool against dsn and ensures the schema
// exists. Mirrors the teacher's sqlite.NewDB shape (open, configure,
// return store.Driver) adapted to Postgres's connection-pool model
// instead of SQLite's single-connection WAL setup.
func NewDB(ctx context.Context, dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

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
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL REFERENCES graphs(id) ON DELETE CASCADE,
			node_key TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL DEFAULT '{"kind":"null"}',
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
			context JSONB NOT NULL DEFAULT '{"kind":"null"}',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL REFERENCES nodes(id),
			status TEXT NOT NULL,
			input_data JSONB NOT NULL DEFAULT '{"kind":"null"}',
			output_data JSONB NOT NULL DEFAULT '{"kind":"null"}',
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
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

// placeholder returns the Postgres positional placeholder for arg n (1-based).
func placeholder(n int) string { return "$" + strconv.Itoa(n) }

// placeholders returns a comma-joined run of n positional placeholders
// starting at 1, e.g. placeholders(3) -> "$1, $2, $3".
func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}
