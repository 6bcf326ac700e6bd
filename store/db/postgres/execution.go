package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/store"
)

func (d *DB) CreateExecution(ctx context.Context, graphID core.GraphID, execContext core.Value) (*core.Execution, error) {
	encoded, err := store.EncodeValue(execContext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode execution context")
	}

	execution := &core.Execution{
		ID:      core.NewExecutionID(),
		GraphID: graphID,
		Status:  core.StatusPending,
		Context: execContext,
	}

	stmt := `INSERT INTO executions (id, graph_id, status, context) VALUES (` + placeholders(4) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, execution.ID, graphID, string(core.StatusPending), encoded); err != nil {
		return nil, errors.Wrap(err, "failed to create execution")
	}
	return execution, nil
}

func (d *DB) GetExecution(ctx context.Context, id core.ExecutionID) (*core.Execution, error) {
	execution := &core.Execution{ID: id}
	var status string
	var context []byte
	var startedAt, completedAt sql.NullTime

	err := d.db.QueryRowContext(ctx, `SELECT graph_id, status, context, started_at, completed_at, error_message FROM executions WHERE id = `+placeholder(1), id).
		Scan(&execution.GraphID, &status, &context, &startedAt, &completedAt, &execution.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}

	execution.Status = core.Status(status)
	execution.Context, err = store.DecodeValue(context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode execution context")
	}
	if startedAt.Valid {
		t := startedAt.Time
		execution.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		execution.CompletedAt = &t
	}
	return execution, nil
}

func (d *DB) SetExecutionStatus(ctx context.Context, id core.ExecutionID, status core.Status, startedAt, completedAt *time.Time, errorMessage string) error {
	stmt := `UPDATE executions SET status = ` + placeholder(1) + `, error_message = ` + placeholder(2)
	args := []any{string(status), errorMessage}
	if startedAt != nil {
		args = append(args, *startedAt)
		stmt += ", started_at = " + placeholder(len(args))
	}
	if completedAt != nil {
		args = append(args, *completedAt)
		stmt += ", completed_at = " + placeholder(len(args))
	}
	args = append(args, id)
	stmt += " WHERE id = " + placeholder(len(args))

	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to set execution status")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}
