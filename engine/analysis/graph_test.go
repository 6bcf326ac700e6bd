package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/tanjeetsarkar/workflowengine/engine/core"
)

func nodeSet(keys ...string) []engine.Node {
	nodes := make([]engine.Node, len(keys))
	for i, k := range keys {
		nodes[i] = engine.Node{ID: engine.NodeID(k), NodeKey: k, TimeoutSeconds: 300}
	}
	return nodes
}

func edge(src, dst string, cond engine.EdgeCondition) engine.Edge {
	return engine.Edge{
		ID:        engine.NewEdgeID(),
		SourceID:  engine.NodeID(src),
		TargetID:  engine.NodeID(dst),
		Condition: cond,
	}
}

func TestValidate_EmptyGraph(t *testing.T) {
	ok, reason := Validate(nil, nil)
	assert.False(t, ok)
	assert.Contains(t, reason, "no nodes")
}

func TestValidate_UnknownNodeReference(t *testing.T) {
	nodes := nodeSet("a")
	edges := []engine.Edge{edge("a", "ghost", engine.Always)}
	ok, reason := Validate(nodes, edges)
	assert.False(t, ok)
	assert.Contains(t, reason, "unknown node")
}

func TestValidate_SelfLoop(t *testing.T) {
	nodes := nodeSet("a")
	edges := []engine.Edge{edge("a", "a", engine.Always)}
	ok, reason := Validate(nodes, edges)
	assert.False(t, ok)
	assert.Contains(t, reason, "self-loop")
}

func TestValidate_DuplicateEdge(t *testing.T) {
	nodes := nodeSet("a", "b")
	edges := []engine.Edge{
		edge("a", "b", engine.OnSuccess),
		edge("a", "b", engine.OnSuccess),
	}
	ok, reason := Validate(nodes, edges)
	assert.False(t, ok)
	assert.Contains(t, reason, "duplicate edge")
}

func TestValidate_Cycle(t *testing.T) {
	nodes := nodeSet("a", "b", "c")
	edges := []engine.Edge{
		edge("a", "b", engine.Always),
		edge("b", "c", engine.Always),
		edge("c", "a", engine.Always),
	}
	ok, reason := Validate(nodes, edges)
	assert.False(t, ok)
	assert.Contains(t, reason, "cycle")
}

func TestValidate_DiamondIsValid(t *testing.T) {
	nodes := nodeSet("a", "b", "c", "d")
	edges := []engine.Edge{
		edge("a", "b", engine.OnSuccess),
		edge("a", "c", engine.OnFailure),
		edge("b", "d", engine.Always),
		edge("c", "d", engine.Always),
	}
	ok, reason := Validate(nodes, edges)
	require.True(t, ok, reason)
}

func TestTopologicalOrder_LinearChain(t *testing.T) {
	nodes := nodeSet("a", "b", "c")
	edges := []engine.Edge{
		edge("a", "b", engine.OnSuccess),
		edge("b", "c", engine.OnSuccess),
	}
	a := New(nodes, edges)
	order, err := a.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopologicalOrder_StableTieBreak(t *testing.T) {
	// b and c have no precedence between them; insertion order b, c must
	// be preserved in the returned order.
	nodes := nodeSet("a", "b", "c", "d")
	edges := []engine.Edge{
		edge("a", "b", engine.Always),
		edge("a", "c", engine.Always),
		edge("b", "d", engine.Always),
		edge("c", "d", engine.Always),
	}
	a := New(nodes, edges)
	order, err := a.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	nodes := nodeSet("a", "b")
	edges := []engine.Edge{
		edge("a", "b", engine.Always),
		edge("b", "a", engine.Always),
	}
	a := New(nodes, edges)
	_, err := a.TopologicalOrder()
	assert.Error(t, err)
}

func TestLevels_Diamond(t *testing.T) {
	nodes := nodeSet("a", "b", "c", "d")
	edges := []engine.Edge{
		edge("a", "b", engine.OnSuccess),
		edge("a", "c", engine.OnFailure),
		edge("b", "d", engine.Always),
		edge("c", "d", engine.Always),
	}
	a := New(nodes, edges)
	levels, err := a.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}

func TestLevels_LongestPathLayering(t *testing.T) {
	// a->b->c->d and a->d directly: d must be at level 3 (longest path),
	// not level 1.
	nodes := nodeSet("a", "b", "c", "d")
	edges := []engine.Edge{
		edge("a", "b", engine.Always),
		edge("b", "c", engine.Always),
		edge("c", "d", engine.Always),
		edge("a", "d", engine.Always),
	}
	a := New(nodes, edges)
	levels, err := a.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 4)
	assert.Equal(t, []string{"d"}, levels[3])
}

func TestPredecessorsSuccessors(t *testing.T) {
	nodes := nodeSet("a", "b", "c")
	edges := []engine.Edge{
		edge("a", "b", engine.OnSuccess),
		edge("a", "c", engine.OnFailure),
	}
	a := New(nodes, edges)
	assert.ElementsMatch(t, []string{"b", "c"}, a.Successors("a"))
	assert.ElementsMatch(t, []string{"a"}, a.Predecessors("b"))
	cond, ok := a.EdgeCondition("a", "b")
	require.True(t, ok)
	assert.Equal(t, engine.OnSuccess, cond)
}
