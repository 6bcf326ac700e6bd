// Package analysis implements pure, stateless analysis over a graph's
// (nodes, edges): validation, cycle detection, topological ordering and
// longest-path level partitioning. Nothing here touches I/O or engine
// state; it is built entirely on the standard library because no
// retrieved example repo carries a graph-theory dependency worth
// reaching for (see DESIGN.md).
package analysis

import (
	"fmt"
	"sort"

	engine "github.com/tanjeetsarkar/workflowengine/engine/core"
)

// Analyzer is constructed once per dispatch from a Graph's nodes and
// edges and answers every structural query the scheduler needs.
type Analyzer struct {
	nodeKeys     []string // insertion order, for stable tie-breaks
	nodeIndex    map[string]int
	adjacency    map[string][]string // src -> []dst
	predecessors map[string][]string
	successors   map[string][]string
	edgeIndex    map[[2]string]engine.EdgeCondition
}

// New builds an Analyzer from a graph's nodes and edges. It performs no
// validation itself; call Validate before relying on TopologicalOrder
// or Levels.
func New(nodes []engine.Node, edges []engine.Edge) *Analyzer {
	a := &Analyzer{
		nodeIndex:    make(map[string]int, len(nodes)),
		adjacency:    make(map[string][]string, len(nodes)),
		predecessors: make(map[string][]string, len(nodes)),
		successors:   make(map[string][]string, len(nodes)),
		edgeIndex:    make(map[[2]string]engine.EdgeCondition, len(edges)),
	}

	nodeByID := make(map[engine.NodeID]string, len(nodes))
	for i, n := range nodes {
		a.nodeKeys = append(a.nodeKeys, n.NodeKey)
		a.nodeIndex[n.NodeKey] = i
		nodeByID[n.ID] = n.NodeKey
	}

	for _, e := range edges {
		src, srcOK := nodeByID[e.SourceID]
		dst, dstOK := nodeByID[e.TargetID]
		if !srcOK || !dstOK {
			// Skipped here; Validate reports this as malformed.
			continue
		}
		a.adjacency[src] = append(a.adjacency[src], dst)
		a.successors[src] = append(a.successors[src], dst)
		a.predecessors[dst] = append(a.predecessors[dst], src)
		a.edgeIndex[[2]string{src, dst}] = e.Condition
	}

	return a
}

// Validate fails if the node set is empty, an edge references an
// unknown node key, a self-loop or duplicate edge is present, or the
// induced digraph is cyclic.
func Validate(nodes []engine.Node, edges []engine.Edge) (bool, string) {
	if len(nodes) == 0 {
		return false, "graph has no nodes"
	}

	nodeByID := make(map[engine.NodeID]string, len(nodes))
	seenKey := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seenKey[n.NodeKey] {
			return false, fmt.Sprintf("duplicate node_key %q", n.NodeKey)
		}
		seenKey[n.NodeKey] = true
		nodeByID[n.ID] = n.NodeKey
	}

	seenEdge := make(map[[3]string]bool, len(edges))
	for _, e := range edges {
		src, srcOK := nodeByID[e.SourceID]
		dst, dstOK := nodeByID[e.TargetID]
		if !srcOK || !dstOK {
			return false, fmt.Sprintf("edge %s references an unknown node", e.ID)
		}
		if src == dst {
			return false, fmt.Sprintf("self-loop at node %q", src)
		}
		key := [3]string{src, dst, string(e.Condition)}
		if seenEdge[key] {
			return false, fmt.Sprintf("duplicate edge %s->%s (%s)", src, dst, e.Condition)
		}
		seenEdge[key] = true
	}

	a := New(nodes, edges)
	if _, err := a.TopologicalOrder(); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// TopologicalOrder returns node keys in an order consistent with Kahn's
// algorithm, breaking ties by insertion order of the supplied nodes, so
// the order is stable and reproducible across runs of the same graph.
func (a *Analyzer) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(a.nodeKeys))
	for _, k := range a.nodeKeys {
		inDegree[k] = 0
	}
	for _, dsts := range a.adjacency {
		for _, d := range dsts {
			inDegree[d]++
		}
	}

	var ready []string
	for _, k := range a.nodeKeys {
		if inDegree[k] == 0 {
			ready = append(ready, k)
		}
	}
	sortByInsertionOrder(ready, a.nodeIndex)

	var order []string
	for len(ready) > 0 {
		k := ready[0]
		ready = ready[1:]
		order = append(order, k)

		var newlyReady []string
		for _, d := range a.adjacency[k] {
			inDegree[d]--
			if inDegree[d] == 0 {
				newlyReady = append(newlyReady, d)
			}
		}
		sortByInsertionOrder(newlyReady, a.nodeIndex)
		ready = append(ready, newlyReady...)
		sortByInsertionOrder(ready, a.nodeIndex)
	}

	if len(order) != len(a.nodeKeys) {
		return nil, fmt.Errorf("graph contains a cycle")
	}
	return order, nil
}

func sortByInsertionOrder(keys []string, index map[string]int) {
	sort.Slice(keys, func(i, j int) bool { return index[keys[i]] < index[keys[j]] })
}

// Levels returns L0, L1, ... using longest-path layering: a node
// appears in the level equal to the length of the longest path from
// any root to it. Used only to structure the fan-in barrier.
func (a *Analyzer) Levels() ([][]string, error) {
	order, err := a.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	maxLevel := 0
	for _, k := range order {
		l := 0
		for _, p := range a.predecessors[k] {
			if level[p]+1 > l {
				l = level[p] + 1
			}
		}
		level[k] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, k := range order {
		levels[level[k]] = append(levels[level[k]], k)
	}
	for i := range levels {
		sortByInsertionOrder(levels[i], a.nodeIndex)
	}
	return levels, nil
}

// Predecessors returns the node keys with an edge into k.
func (a *Analyzer) Predecessors(k string) []string { return append([]string(nil), a.predecessors[k]...) }

// Successors returns the node keys with an edge out of k.
func (a *Analyzer) Successors(k string) []string { return append([]string(nil), a.successors[k]...) }

// EdgeCondition returns the declared condition for edge src->dst and
// whether such an edge exists.
func (a *Analyzer) EdgeCondition(src, dst string) (engine.EdgeCondition, bool) {
	c, ok := a.edgeIndex[[2]string{src, dst}]
	return c, ok
}

