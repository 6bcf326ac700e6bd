package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/store"
)

func (d *DB) CreateNodeExecutions(ctx context.Context, executionID core.ExecutionID, nodeIDs []core.NodeID) (map[string]core.NodeExecID, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin node execution creation")
	}
	defer tx.Rollback()

	out := make(map[string]core.NodeExecID, len(nodeIDs))
	nullValue, err := store.EncodeValue(core.NullValue())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode null value")
	}

	for _, nodeID := range nodeIDs {
		var nodeKey string
		if err := tx.QueryRowContext(ctx, `SELECT node_key FROM nodes WHERE id = ?`, nodeID).Scan(&nodeKey); err != nil {
			return nil, errors.Wrapf(err, "failed to resolve node_key for node %s", nodeID)
		}

		id := core.NewNodeExecID()
		if _, err := tx.ExecContext(ctx, `INSERT INTO node_executions (id, execution_id, node_id, status, input_data, output_data) VALUES (?, ?, ?, ?, ?, ?)`,
			id, executionID, nodeID, string(core.StatusPending), nullValue, nullValue); err != nil {
			return nil, errors.Wrap(err, "failed to create node execution")
		}
		out[nodeKey] = id
	}

	return out, errors.Wrap(tx.Commit(), "failed to commit node execution creation")
}

func (d *DB) StartNodeExecution(ctx context.Context, id core.NodeExecID, runnerTaskID string, inputBundle core.Value, at time.Time) error {
	encoded, err := store.EncodeValue(inputBundle)
	if err != nil {
		return errors.Wrap(err, "failed to encode input bundle")
	}

	result, err := d.db.ExecContext(ctx,
		`UPDATE node_executions SET status = ?, runner_task_id = ?, input_data = ?, started_at = ? WHERE id = ?`,
		string(core.StatusRunning), runnerTaskID, encoded, at, id)
	if err != nil {
		return errors.Wrap(err, "failed to start node execution")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (d *DB) CompleteNodeExecution(ctx context.Context, id core.NodeExecID, status core.Status, output core.Value, errorMessage string, at time.Time) error {
	encoded, err := store.EncodeValue(output)
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}

	result, err := d.db.ExecContext(ctx,
		`UPDATE node_executions SET status = ?, output_data = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), encoded, errorMessage, at, id)
	if err != nil {
		return errors.Wrap(err, "failed to complete node execution")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (d *DB) ListTerminalNodeExecutions(ctx context.Context, executionID core.ExecutionID) ([]core.NodeExecution, error) {
	query := `SELECT id, node_id, status, input_data, output_data, error_message, started_at, completed_at, runner_task_id
		FROM node_executions
		WHERE execution_id = ? AND status IN ('SUCCESS', 'FAILED', 'CANCELLED', 'TIMEOUT')`
	rows, err := d.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list terminal node executions")
	}
	defer rows.Close()

	var out []core.NodeExecution
	for rows.Next() {
		ne, err := scanNodeExecution(rows, executionID)
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}
	return out, errors.Wrap(rows.Err(), "error iterating node executions")
}

func (d *DB) TerminalStatusesByExecution(ctx context.Context, executionID core.ExecutionID) (map[string]core.Status, error) {
	query := `SELECT n.node_key, ne.status FROM node_executions ne JOIN nodes n ON n.id = ne.node_id WHERE ne.execution_id = ?`
	rows, err := d.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list terminal statuses")
	}
	defer rows.Close()

	out := make(map[string]core.Status)
	for rows.Next() {
		var nodeKey, status string
		if err := rows.Scan(&nodeKey, &status); err != nil {
			return nil, errors.Wrap(err, "failed to scan terminal status")
		}
		out[nodeKey] = core.Status(status)
	}
	return out, errors.Wrap(rows.Err(), "error iterating terminal statuses")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeExecution(row rowScanner, executionID core.ExecutionID) (core.NodeExecution, error) {
	var ne core.NodeExecution
	var status string
	var input, output []byte
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&ne.ID, &ne.NodeID, &status, &input, &output, &ne.ErrorMessage, &startedAt, &completedAt, &ne.RunnerTaskID); err != nil {
		return core.NodeExecution{}, errors.Wrap(err, "failed to scan node execution")
	}
	ne.ExecutionID = executionID
	ne.Status = core.Status(status)

	var err error
	ne.InputData, err = store.DecodeValue(input)
	if err != nil {
		return core.NodeExecution{}, errors.Wrap(err, "failed to decode input data")
	}
	ne.OutputData, err = store.DecodeValue(output)
	if err != nil {
		return core.NodeExecution{}, errors.Wrap(err, "failed to decode output data")
	}
	if startedAt.Valid {
		t := startedAt.Time
		ne.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		ne.CompletedAt = &t
	}
	return ne, nil
}
