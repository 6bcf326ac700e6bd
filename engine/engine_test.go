package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/engine/enginetest"
)

func TestEngine_SubmitExecutionRunsToSuccess(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B"}, []core.Edge{
		mkEdge("A", "B", core.OnSuccess),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Output: core.StringValue("a")}).
		For("B", enginetest.NodeBehavior{Output: core.StringValue("b")})

	e := New(repo, runner, DefaultConfig(), nil)
	defer e.Close()

	require.NoError(t, e.SubmitExecution(context.Background(), executionID))

	require.Eventually(t, func() bool {
		exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
		return err == nil && exec.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	exec, nodeExecs, err := e.Snapshot(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, exec.Status)
	assert.Len(t, nodeExecs, 2)
}

func TestEngine_SubmitExecutionIdempotentNoop(t *testing.T) {
	graph := buildGraph(t, []string{"A"}, nil)
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().For("A", enginetest.NodeBehavior{Output: core.StringValue("a")})

	e := New(repo, runner, DefaultConfig(), nil)
	defer e.Close()

	require.NoError(t, e.SubmitExecution(context.Background(), executionID))
	require.Eventually(t, func() bool {
		exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
		return err == nil && exec.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	// Second submit against an already-terminal execution is a no-op,
	// not an error.
	require.NoError(t, e.SubmitExecution(context.Background(), executionID))
}

func TestEngine_SubmitExecutionRejectsInactiveGraph(t *testing.T) {
	graph := buildGraph(t, []string{"A"}, nil)
	graph.IsActive = false
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner()
	e := New(repo, runner, DefaultConfig(), nil)
	defer e.Close()

	err := e.SubmitExecution(context.Background(), executionID)
	assert.ErrorIs(t, err, core.ErrGraphInactive)
}

func TestEngine_CancelExecutionRejectsTerminal(t *testing.T) {
	graph := buildGraph(t, []string{"A"}, nil)
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)
	repo.executions[executionID].Status = core.StatusSuccess

	runner := enginetest.NewScriptedRunner()
	e := New(repo, runner, DefaultConfig(), nil)
	defer e.Close()

	err := e.CancelExecution(context.Background(), executionID)
	assert.ErrorIs(t, err, core.ErrAlreadyTerminal)
}

func TestEngine_SubmitExecutionRejectsAtCapacity(t *testing.T) {
	graph := buildGraph(t, []string{"A"}, nil)
	repo := newFakeRepo()

	cfg := DefaultConfig()
	cfg.MaxConcurrentExecutions = 1
	cfg.SubmissionBurst = 10
	cfg.SubmissionRatePerSecond = 1000

	runner := enginetest.NewScriptedRunner().For("A", enginetest.NodeBehavior{Sleep: 200 * time.Millisecond, Output: core.StringValue("a")})
	e := New(repo, runner, cfg, nil)
	defer e.Close()

	id1 := core.NewExecutionID()
	repo.seed(id1, graph)
	require.NoError(t, e.SubmitExecution(context.Background(), id1))

	graph2 := buildGraph(t, []string{"A"}, nil)
	id2 := core.NewExecutionID()
	repo.seed(id2, graph2)
	err := e.SubmitExecution(context.Background(), id2)
	assert.ErrorIs(t, err, core.ErrBusy)
}
