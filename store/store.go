// Package store is C2, the Repository boundary: a driver-agnostic
// facade in front of concrete database backends, shaped on the
// teacher's store.Store/store.Driver split (store/store.go) — the
// facade owns no SQL itself, every method delegates straight to the
// active Driver.
package store

import (
	"context"
	"time"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
)

// Driver is implemented once per supported backend (store/db/postgres,
// store/db/sqlite). Its method set is the repository operation set
// named in SPEC_FULL.md §4.2, plus the graph/execution authoring calls
// a caller needs before it can ever invoke Engine.SubmitExecution.
type Driver interface {
	CreateGraph(ctx context.Context, graph *core.Graph) error
	GetGraph(ctx context.Context, id core.GraphID) (*core.Graph, error)

	CreateExecution(ctx context.Context, graphID core.GraphID, execContext core.Value) (*core.Execution, error)
	GetExecution(ctx context.Context, id core.ExecutionID) (*core.Execution, error)
	SetExecutionStatus(ctx context.Context, id core.ExecutionID, status core.Status, startedAt, completedAt *time.Time, errorMessage string) error

	CreateNodeExecutions(ctx context.Context, executionID core.ExecutionID, nodeIDs []core.NodeID) (map[string]core.NodeExecID, error)
	StartNodeExecution(ctx context.Context, id core.NodeExecID, runnerTaskID string, inputBundle core.Value, at time.Time) error
	CompleteNodeExecution(ctx context.Context, id core.NodeExecID, status core.Status, output core.Value, errorMessage string, at time.Time) error
	ListTerminalNodeExecutions(ctx context.Context, executionID core.ExecutionID) ([]core.NodeExecution, error)
	TerminalStatusesByExecution(ctx context.Context, executionID core.ExecutionID) (map[string]core.Status, error)

	Close() error
}

// Store adapts a Driver to engine/core.Repository and carries the
// graph/execution authoring calls no single Repository method covers.
type Store struct {
	driver Driver
}

// New wraps driver in the Store facade, mirroring the teacher's
// store.New(driver, profile) constructor (the profile argument is
// dropped: the engine's Store needs no per-request caching layer,
// see DESIGN.md).
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) GetDriver() Driver { return s.driver }

func (s *Store) Close() error { return s.driver.Close() }

// CreateGraph persists a graph definition ahead of any execution
// against it. Outside the C2 operation set proper (spec.md §4.2 is
// silent on how graphs come to exist) but required for the engine to
// have anything to run.
func (s *Store) CreateGraph(ctx context.Context, graph *core.Graph) error {
	return s.driver.CreateGraph(ctx, graph)
}

func (s *Store) GetGraph(ctx context.Context, id core.GraphID) (*core.Graph, error) {
	return s.driver.GetGraph(ctx, id)
}

// CreateExecution registers a new PENDING Execution row against a
// previously-created graph.
func (s *Store) CreateExecution(ctx context.Context, graphID core.GraphID, execContext core.Value) (*core.Execution, error) {
	return s.driver.CreateExecution(ctx, graphID, execContext)
}

// LoadExecutionForRun satisfies engine/core.Repository.
func (s *Store) LoadExecutionForRun(ctx context.Context, id core.ExecutionID) (*core.Execution, *core.Graph, error) {
	execution, err := s.driver.GetExecution(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	graph, err := s.driver.GetGraph(ctx, execution.GraphID)
	if err != nil {
		return nil, nil, err
	}
	return execution, graph, nil
}

func (s *Store) SetExecutionStatus(ctx context.Context, id core.ExecutionID, status core.Status, startedAt, completedAt *time.Time, errorMessage string) error {
	return s.driver.SetExecutionStatus(ctx, id, status, startedAt, completedAt, errorMessage)
}

func (s *Store) CreateNodeExecutions(ctx context.Context, executionID core.ExecutionID, nodeIDs []core.NodeID) (map[string]core.NodeExecID, error) {
	return s.driver.CreateNodeExecutions(ctx, executionID, nodeIDs)
}

func (s *Store) StartNodeExecution(ctx context.Context, id core.NodeExecID, runnerTaskID string, inputBundle core.Value, at time.Time) error {
	return s.driver.StartNodeExecution(ctx, id, runnerTaskID, inputBundle, at)
}

func (s *Store) CompleteNodeExecution(ctx context.Context, id core.NodeExecID, status core.Status, output core.Value, errorMessage string, at time.Time) error {
	return s.driver.CompleteNodeExecution(ctx, id, status, output, errorMessage, at)
}

func (s *Store) ListTerminalNodeExecutions(ctx context.Context, executionID core.ExecutionID) ([]core.NodeExecution, error) {
	return s.driver.ListTerminalNodeExecutions(ctx, executionID)
}

func (s *Store) TerminalStatusesByExecution(ctx context.Context, executionID core.ExecutionID) (map[string]core.Status, error) {
	return s.driver.TerminalStatusesByExecution(ctx, executionID)
}

var _ core.Repository = (*Store)(nil)
