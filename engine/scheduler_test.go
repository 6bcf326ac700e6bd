package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/engine/enginetest"
	"github.com/tanjeetsarkar/workflowengine/engine/statestore"
)

// fakeRepo is an in-memory core.Repository double used only by
// scheduler tests; it is not the production repository (see store/).
type fakeRepo struct {
	mu         sync.Mutex
	executions map[core.ExecutionID]*core.Execution
	graphs     map[core.ExecutionID]*core.Graph
	nodeExecs  map[core.NodeExecID]*core.NodeExecution
	nodeKeyOf  map[core.NodeID]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		executions: make(map[core.ExecutionID]*core.Execution),
		graphs:     make(map[core.ExecutionID]*core.Graph),
		nodeExecs:  make(map[core.NodeExecID]*core.NodeExecution),
		nodeKeyOf:  make(map[core.NodeID]string),
	}
}

func (r *fakeRepo) seed(executionID core.ExecutionID, graph core.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[executionID] = &core.Execution{ID: executionID, GraphID: graph.ID, Status: core.StatusPending}
	r.graphs[executionID] = &graph
	for _, n := range graph.Nodes {
		r.nodeKeyOf[n.ID] = n.NodeKey
	}
}

func (r *fakeRepo) LoadExecutionForRun(ctx context.Context, id core.ExecutionID) (*core.Execution, *core.Graph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, nil, core.ErrNotFound
	}
	g := r.graphs[id]
	cp := *e
	return &cp, g, nil
}

func (r *fakeRepo) SetExecutionStatus(ctx context.Context, id core.ExecutionID, status core.Status, startedAt, completedAt *time.Time, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return core.ErrNotFound
	}
	e.Status = status
	if startedAt != nil {
		e.StartedAt = startedAt
	}
	if completedAt != nil {
		e.CompletedAt = completedAt
	}
	e.ErrorMessage = errorMessage
	return nil
}

func (r *fakeRepo) CreateNodeExecutions(ctx context.Context, executionID core.ExecutionID, nodeIDs []core.NodeID) (map[string]core.NodeExecID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]core.NodeExecID, len(nodeIDs))
	for _, nid := range nodeIDs {
		key := r.nodeKeyOf[nid]
		id := core.NewNodeExecID()
		r.nodeExecs[id] = &core.NodeExecution{ID: id, ExecutionID: executionID, NodeID: nid, Status: core.StatusPending}
		out[key] = id
	}
	return out, nil
}

func (r *fakeRepo) StartNodeExecution(ctx context.Context, id core.NodeExecID, runnerTaskID string, inputBundle core.Value, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ne, ok := r.nodeExecs[id]
	if !ok {
		return core.ErrNotFound
	}
	ne.Status = core.StatusRunning
	ne.RunnerTaskID = runnerTaskID
	ne.InputData = inputBundle
	ne.StartedAt = &at
	return nil
}

func (r *fakeRepo) CompleteNodeExecution(ctx context.Context, id core.NodeExecID, status core.Status, output core.Value, errorMessage string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ne, ok := r.nodeExecs[id]
	if !ok {
		return core.ErrNotFound
	}
	ne.Status = status
	ne.OutputData = output
	ne.ErrorMessage = errorMessage
	ne.CompletedAt = &at
	return nil
}

func (r *fakeRepo) ListTerminalNodeExecutions(ctx context.Context, executionID core.ExecutionID) ([]core.NodeExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.NodeExecution
	for _, ne := range r.nodeExecs {
		if ne.ExecutionID == executionID && ne.Status.IsTerminal() {
			out = append(out, *ne)
		}
	}
	return out, nil
}

func (r *fakeRepo) TerminalStatusesByExecution(ctx context.Context, executionID core.ExecutionID) (map[string]core.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]core.Status)
	for _, ne := range r.nodeExecs {
		if ne.ExecutionID == executionID {
			out[r.nodeKeyOf[ne.NodeID]] = ne.Status
		}
	}
	return out, nil
}

func (r *fakeRepo) nodeExecByKey(executionID core.ExecutionID, key string) *core.NodeExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ne := range r.nodeExecs {
		if ne.ExecutionID == executionID && r.nodeKeyOf[ne.NodeID] == key {
			return ne
		}
	}
	return nil
}

func buildGraph(t *testing.T, keys []string, edges []core.Edge) core.Graph {
	t.Helper()
	nodes := make([]core.Node, len(keys))
	for i, k := range keys {
		nodes[i] = core.Node{ID: core.NodeID(k), NodeKey: k, TimeoutSeconds: 60, Payload: core.StringValue(k)}
	}
	return core.Graph{ID: core.NewGraphID(), IsActive: true, Nodes: nodes, Edges: edges}
}

func mkEdge(src, dst string, cond core.EdgeCondition) core.Edge {
	return core.Edge{ID: core.NewEdgeID(), SourceID: core.NodeID(src), TargetID: core.NodeID(dst), Condition: cond}
}

// Scenario 1: linear chain, all succeed.
func TestScheduler_LinearChainAllSucceed(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B", "C"}, []core.Edge{
		mkEdge("A", "B", core.OnSuccess),
		mkEdge("B", "C", core.OnSuccess),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Output: core.StringValue("a")}).
		For("B", enginetest.NodeBehavior{Output: core.StringValue("ab")}).
		For("C", enginetest.NodeBehavior{Output: core.StringValue("abc")})

	sched := NewScheduler(repo, statestore.New(), runner, DefaultSchedulerConfig(), nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, exec.Status)

	c := repo.nodeExecByKey(executionID, "C")
	require.NotNil(t, c)
	out, ok := c.OutputData.String()
	require.True(t, ok)
	assert.Equal(t, "abc", out)
}

// Scenario 2: diamond, B fails, D is gate-cancelled.
func TestScheduler_DiamondBFails(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B", "C", "D"}, []core.Edge{
		mkEdge("A", "B", core.OnSuccess),
		mkEdge("A", "C", core.OnSuccess),
		mkEdge("B", "D", core.OnSuccess),
		mkEdge("C", "D", core.OnSuccess),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Output: core.StringValue("a")}).
		For("B", enginetest.NodeBehavior{Fail: true}).
		For("C", enginetest.NodeBehavior{Output: core.StringValue("c")})

	sched := NewScheduler(repo, statestore.New(), runner, DefaultSchedulerConfig(), nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "B")

	d := repo.nodeExecByKey(executionID, "D")
	require.NotNil(t, d)
	assert.Equal(t, core.StatusCancelled, d.Status)
}

// Scenario 3: fallback via ON_FAILURE; A fails, B cancelled, C succeeds,
// execution still FAILED (A's failure is terminal for the execution).
func TestScheduler_OnFailureFallback(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B", "C"}, []core.Edge{
		mkEdge("A", "B", core.OnSuccess),
		mkEdge("A", "C", core.OnFailure),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Fail: true}).
		For("C", enginetest.NodeBehavior{Output: core.StringValue("c")})

	sched := NewScheduler(repo, statestore.New(), runner, DefaultSchedulerConfig(), nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, exec.Status)

	b := repo.nodeExecByKey(executionID, "B")
	require.NotNil(t, b)
	assert.Equal(t, core.StatusCancelled, b.Status)

	c := repo.nodeExecByKey(executionID, "C")
	require.NotNil(t, c)
	assert.Equal(t, core.StatusSuccess, c.Status)
}

// Scenario 4: ALWAYS sink; A succeeds, B fails, Z receives only A's output.
func TestScheduler_AlwaysSink(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B", "Z"}, []core.Edge{
		mkEdge("A", "Z", core.Always),
		mkEdge("B", "Z", core.Always),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Output: core.StringValue("a-out")}).
		For("B", enginetest.NodeBehavior{Fail: true}).
		For("Z", enginetest.NodeBehavior{Output: core.StringValue("z-out")})

	sched := NewScheduler(repo, statestore.New(), runner, DefaultSchedulerConfig(), nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, exec.Status)

	z := repo.nodeExecByKey(executionID, "Z")
	require.NotNil(t, z)
	assert.Equal(t, core.StatusSuccess, z.Status)
	mapping, ok := z.InputData.Mapping()
	require.True(t, ok)
	_, hasA := mapping["A"]
	_, hasB := mapping["B"]
	assert.True(t, hasA)
	assert.False(t, hasB)
}

// Scenario 6: node timeout cascades to a CANCELLED ON_SUCCESS successor.
func TestScheduler_NodeTimeout(t *testing.T) {
	graph := buildGraph(t, []string{"X", "Y"}, []core.Edge{
		mkEdge("X", "Y", core.OnSuccess),
	})
	graph.Nodes[0].TimeoutSeconds = 1

	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	runner := enginetest.NewScriptedRunner().
		For("X", enginetest.NodeBehavior{Sleep: 5 * time.Second, Timeout: true}).
		For("Y", enginetest.NodeBehavior{Output: core.StringValue("y")})

	// Uses DefaultSchedulerConfig() unmodified (MaxRunnerRetries > 0) to
	// prove the node's own deadline timeout is never retried, even though
	// the retry loop is live for this run.
	cfg := DefaultSchedulerConfig()
	sched := NewScheduler(repo, statestore.New(), runner, cfg, nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	x := repo.nodeExecByKey(executionID, "X")
	require.NotNil(t, x)
	assert.Equal(t, core.StatusTimeout, x.Status)
	// The node's own deadline timeout must never be retried, even with
	// MaxRunnerRetries > 0: exactly one runner call for X.
	assert.Equal(t, 1, runner.CallCount("X"))

	y := repo.nodeExecByKey(executionID, "Y")
	require.NotNil(t, y)
	assert.Equal(t, core.StatusCancelled, y.Status)

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, exec.Status)
}

// Cancellation recorded before Run starts is observed at the first level
// checkpoint: no node is dispatched and the execution terminates CANCELLED.
func TestScheduler_CancellationBeforeFirstLevel(t *testing.T) {
	graph := buildGraph(t, []string{"A", "B"}, []core.Edge{
		mkEdge("A", "B", core.OnSuccess),
	})
	repo := newFakeRepo()
	executionID := core.NewExecutionID()
	repo.seed(executionID, graph)

	state := statestore.New()
	runner := enginetest.NewScriptedRunner().
		For("A", enginetest.NodeBehavior{Output: core.StringValue("a")}).
		For("B", enginetest.NodeBehavior{Output: core.StringValue("b")})

	// Pre-seed the state store and flip to CANCELLED before Run starts,
	// simulating a cancel observed at the very first checkpoint.
	require.NoError(t, state.Init(context.Background(), executionID, time.Hour))
	require.NoError(t, state.SetStatusFlag(context.Background(), executionID, core.StatusCancelled))

	sched := NewScheduler(repo, state, runner, DefaultSchedulerConfig(), nil)
	require.NoError(t, sched.Run(context.Background(), executionID))

	exec, _, err := repo.LoadExecutionForRun(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, exec.Status)
}
