package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/store"
)

func (d *DB) CreateGraph(ctx context.Context, graph *core.Graph) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin graph creation")
	}
	defer tx.Rollback()

	stmt := `INSERT INTO graphs (id, name, description, is_active) VALUES (` + placeholders(4) + `)`
	if _, err := tx.ExecContext(ctx, stmt, graph.ID, graph.Name, graph.Description, graph.IsActive); err != nil {
		return errors.Wrap(err, "failed to create graph")
	}

	for i, n := range graph.Nodes {
		payload, err := store.EncodeValue(n.Payload)
		if err != nil {
			return errors.Wrap(err, "failed to encode node payload")
		}
		stmt := `INSERT INTO nodes (id, graph_id, node_key, name, payload, timeout_seconds, ordinal) VALUES (` + placeholders(7) + `)`
		if _, err := tx.ExecContext(ctx, stmt, n.ID, graph.ID, n.NodeKey, n.Name, payload, n.TimeoutSeconds, i); err != nil {
			return errors.Wrap(err, "failed to create node")
		}
	}

	for i, e := range graph.Edges {
		stmt := `INSERT INTO edges (id, graph_id, source_id, target_id, condition, ordinal) VALUES (` + placeholders(6) + `)`
		if _, err := tx.ExecContext(ctx, stmt, e.ID, graph.ID, e.SourceID, e.TargetID, string(e.Condition), i); err != nil {
			return errors.Wrap(err, "failed to create edge")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit graph creation")
}

func (d *DB) GetGraph(ctx context.Context, id core.GraphID) (*core.Graph, error) {
	graph := &core.Graph{ID: id}
	err := d.db.QueryRowContext(ctx, `SELECT name, description, is_active FROM graphs WHERE id = `+placeholder(1), id).
		Scan(&graph.Name, &graph.Description, &graph.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get graph")
	}

	nodeRows, err := d.db.QueryContext(ctx, `SELECT id, node_key, name, payload, timeout_seconds FROM nodes WHERE graph_id = `+placeholder(1)+` ORDER BY ordinal`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nodes")
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n core.Node
		var payload []byte
		if err := nodeRows.Scan(&n.ID, &n.NodeKey, &n.Name, &payload, &n.TimeoutSeconds); err != nil {
			return nil, errors.Wrap(err, "failed to scan node")
		}
		n.GraphID = id
		n.Payload, err = store.DecodeValue(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode node payload")
		}
		graph.Nodes = append(graph.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating nodes")
	}

	edgeRows, err := d.db.QueryContext(ctx, `SELECT id, source_id, target_id, condition FROM edges WHERE graph_id = `+placeholder(1)+` ORDER BY ordinal`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list edges")
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e core.Edge
		var condition string
		if err := edgeRows.Scan(&e.ID, &e.SourceID, &e.TargetID, &condition); err != nil {
			return nil, errors.Wrap(err, "failed to scan edge")
		}
		e.GraphID = id
		e.Condition = core.EdgeCondition(condition)
		graph.Edges = append(graph.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating edges")
	}

	return graph, nil
}
