package graph

import (
	"fmt"
	"slices"

	"github.com/petal-labs/flowcanvas/core"
)

// LevelResult is the output of LevelGraph. Nodes and Edges are copies of the
// input with Level (and, for edges, endpoint types and branch markers)
// stamped. Unleveled lists, in insertion order, the nodes that could only be
// leveled by breaking a cycle.
type LevelResult struct {
	Nodes     []core.Node
	Edges     []core.Edge
	Unleveled []string
}

// HasCycle reports whether leveling had to break a cycle.
func (r LevelResult) HasCycle() bool {
	return len(r.Unleveled) > 0
}

// LevelGraph assigns every node its longest-path distance from a root (a node
// with no incoming edges) using Kahn's algorithm, then stamps every edge with
// min(sourceLevel, targetLevel)+1 and its endpoint types. Edges leaving a
// branching node are marked as logical branches with the source node ID as a
// provisional condition ID.
//
// When a cycle stalls the queue, the first unprocessed node in insertion
// order is forced in at one past its highest processed predecessor and
// propagation resumes. Every node processed after the first such break is
// reported in Unleveled.
//
// The inputs are not modified.
func LevelGraph(nodes []core.Node, edges []core.Edge) LevelResult {
	idx := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := idx[n.ID]; !dup {
			idx[n.ID] = i
		}
	}

	inDegree := make(map[string]int, len(idx))
	successors := make(map[string][]string, len(idx))
	for _, e := range edges {
		_, okSrc := idx[e.Source]
		_, okTgt := idx[e.Target]
		if !okSrc || !okTgt {
			continue
		}
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	level := make(map[string]int, len(idx))
	processed := make(map[string]bool, len(idx))
	queued := make(map[string]bool, len(idx))
	queue := make([]string, 0, len(idx))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 && !queued[n.ID] {
			queued[n.ID] = true
			level[n.ID] = 0
			queue = append(queue, n.ID)
		}
	}

	var unleveled []string
	broken := false
	next := 0
	for len(processed) < len(idx) {
		if len(queue) == 0 {
			// Break the cycle at the first unprocessed node.
			for ; next < len(nodes); next++ {
				id := nodes[next].ID
				if !queued[id] {
					queued[id] = true
					queue = append(queue, id)
					break
				}
			}
			broken = true
		}

		current := queue[0]
		queue = queue[1:]
		processed[current] = true
		if broken {
			unleveled = append(unleveled, current)
		}
		for _, succ := range successors[current] {
			if processed[succ] {
				continue
			}
			if l := level[current] + 1; l > level[succ] {
				level[succ] = l
			}
			inDegree[succ]--
			if inDegree[succ] == 0 && !queued[succ] {
				queued[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	outNodes := make([]core.Node, len(nodes))
	for i, n := range nodes {
		c := n.Clone()
		c.Level = level[n.ID]
		outNodes[i] = c
	}

	outEdges := make([]core.Edge, len(edges))
	for i, e := range edges {
		c := e.Clone()
		srcLevel, okSrc := level[e.Source]
		tgtLevel, okTgt := level[e.Target]
		switch {
		case okSrc && okTgt:
			c.Level = min(srcLevel, tgtLevel) + 1
		case okSrc:
			c.Level = srcLevel + 1
		case okTgt:
			c.Level = tgtLevel + 1
		default:
			c.Level = 1
		}
		c.SourceType, c.TargetType = "", ""
		if si, ok := idx[e.Source]; ok {
			c.SourceType = nodes[si].Type
		}
		if ti, ok := idx[e.Target]; ok {
			c.TargetType = nodes[ti].Type
		}
		c.IsLogicalBranch = c.SourceType.IsBranching()
		c.ConditionID = nil
		if c.IsLogicalBranch {
			id := e.Source
			c.ConditionID = &id
		}
		outEdges[i] = c
	}

	return LevelResult{Nodes: outNodes, Edges: outEdges, Unleveled: unleveled}
}

// Order returns a copy of nodes sorted by level, keeping insertion order
// among nodes of equal level.
func Order(nodes []core.Node) []core.Node {
	out := slices.Clone(nodes)
	slices.SortStableFunc(out, func(a, b core.Node) int {
		return a.Level - b.Level
	})
	return out
}

// DetectCycle uses Kahn's algorithm to find cycles. It returns the IDs of the
// nodes that never reach zero in-degree, in insertion order, or nil when the
// graph is acyclic. Edges that reference missing nodes are ignored.
func DetectCycle(nodes []core.Node, edges []core.Edge) []string {
	inDegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string)
	for _, node := range nodes {
		inDegree[node.ID] = 0
	}
	for _, edge := range edges {
		if _, ok := inDegree[edge.Source]; !ok {
			continue
		}
		if _, ok := inDegree[edge.Target]; !ok {
			continue
		}
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
		inDegree[edge.Target]++
	}

	queue := make([]string, 0)
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited == len(inDegree) {
		return nil
	}
	var cycleNodes []string
	seen := make(map[string]bool)
	for _, node := range nodes {
		if inDegree[node.ID] > 0 && !seen[node.ID] {
			seen[node.ID] = true
			cycleNodes = append(cycleNodes, node.ID)
		}
	}
	return cycleNodes
}

// describeCycle formats the result of DetectCycle for diagnostics.
func describeCycle(ids []string) string {
	return fmt.Sprintf("nodes involved: %v", ids)
}
