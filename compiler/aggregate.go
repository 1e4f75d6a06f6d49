package compiler

import (
	"log/slog"

	"github.com/petal-labs/flowcanvas/core"
)

// AggregationRule folds the sources of edges that enter (TargetType, Handle)
// into the target's configuration instead of emitting them as IR edges.
// Transform maps each source node to the entry stored on the target; a nil
// Transform stores a clone of the source node itself.
type AggregationRule struct {
	TargetType core.NodeType
	Handle     string
	Transform  func(source core.Node) any
}

func (r AggregationRule) transform(n core.Node) any {
	if r.Transform == nil {
		return n.Clone()
	}
	return r.Transform(n)
}

type ruleKey struct {
	targetType core.NodeType
	handle     string
}

// DefaultAggregationRules returns the rules for the built-in structural
// handles: executors embedded in task_execution and tools bound to agents.
func DefaultAggregationRules() []AggregationRule {
	return []AggregationRule{
		{
			TargetType: core.NodeTypeTaskExecution,
			Handle:     core.HandleExecutorList,
			Transform:  ExecutorEntry,
		},
		{
			TargetType: core.NodeTypeAgent,
			Handle:     core.HandleTools,
			Transform:  ToolEntry,
		},
	}
}

// ExecutorEntry turns a node into a task_execution executor. The child keeps
// its own node ID as CurrentID.
func ExecutorEntry(n core.Node) any {
	var data core.NodeData
	if n.Data != nil {
		data = n.Data.Clone()
	}
	return core.Executor{CurrentID: n.ID, Type: n.Type, Data: data}
}

// ToolEntry turns a tool or skill node into an agent tool binding.
func ToolEntry(n core.Node) any {
	tb := core.ToolBinding{CurrentID: n.ID, Type: n.Type, Title: n.Title()}
	switch d := n.Data.(type) {
	case *core.ToolData:
		tb.ResourceID = d.ToolID
	case *core.SkillData:
		tb.ResourceID = d.SkillID
	}
	return tb
}

// AggregateResult is the output of Aggregate.
type AggregateResult struct {
	// Nodes are clones of the input nodes; targets of claimed edges carry
	// the aggregated entries in their data.
	Nodes []core.Node
	// Edges are the edges no rule claimed, in input order. Rejected edges
	// are among them.
	Edges []core.Edge
	// Claimed are the edges folded into a target, in input order.
	Claimed []core.Edge
	// Rejected are edges a rule matched whose target data would not hold
	// the list for that handle. They stay ordinary edges.
	Rejected []core.Edge
	// Absorbed holds the IDs of nodes that only exist as aggregated entries:
	// every edge touching them was claimed.
	Absorbed map[string]bool
}

// Aggregate scans edges in order and collects, per (target, handle) with a
// rule, the transformed sources of the edges entering it. The lists are
// injected through core.Aggregating; a target with nil data gets the empty
// configuration for its type first. An edge is claimed only when its target
// took the list, so every claimed source appears exactly once in its
// target's data. The inputs are not modified.
func Aggregate(nodes []core.Node, edges []core.Edge, rules []AggregationRule, logger *slog.Logger) AggregateResult {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[ruleKey]AggregationRule, len(rules))
	for _, r := range rules {
		table[ruleKey{r.TargetType, r.Handle}] = r
	}

	out := AggregateResult{
		Nodes:    make([]core.Node, len(nodes)),
		Absorbed: make(map[string]bool),
	}
	idx := make(map[string]int, len(nodes))
	for i, n := range nodes {
		out.Nodes[i] = n.Clone()
		if _, dup := idx[n.ID]; !dup {
			idx[n.ID] = i
		}
	}

	type target struct {
		node   int
		handle string
	}
	var order []target
	items := make(map[target][]any)
	keys := make([]*target, len(edges))

	touched := make(map[string]int)
	for i, e := range edges {
		touched[e.Source]++
		if e.Target != e.Source {
			touched[e.Target]++
		}

		ti, okTgt := idx[e.Target]
		si, okSrc := idx[e.Source]
		if !okTgt || !okSrc {
			continue
		}
		rule, ok := table[ruleKey{nodes[ti].Type, e.Handle()}]
		if !ok {
			continue
		}

		key := target{node: ti, handle: e.Handle()}
		if _, seen := items[key]; !seen {
			order = append(order, key)
		}
		items[key] = append(items[key], rule.transform(nodes[si]))
		keys[i] = &key
	}

	accepted := make(map[target]bool, len(order))
	for _, key := range order {
		n := &out.Nodes[key.node]
		current := n.Data
		if current == nil {
			current = core.NewData(n.Type)
		}
		agg, ok := current.(core.Aggregating)
		if !ok {
			logger.Warn("node data does not accept aggregated entries; keeping edges",
				"node_id", n.ID, "node_type", n.Type, "handle", key.handle)
			continue
		}
		data, ok := agg.WithAggregated(key.handle, items[key])
		if !ok {
			logger.Warn("node data rejected aggregated handle; keeping edges",
				"node_id", n.ID, "node_type", n.Type, "handle", key.handle)
			continue
		}
		n.Data = data
		accepted[key] = true
	}

	claimedOut := make(map[string]int)
	for i, e := range edges {
		switch {
		case keys[i] == nil:
			out.Edges = append(out.Edges, e.Clone())
		case accepted[*keys[i]]:
			out.Claimed = append(out.Claimed, e.Clone())
			claimedOut[e.Source]++
		default:
			out.Rejected = append(out.Rejected, e.Clone())
			out.Edges = append(out.Edges, e.Clone())
		}
	}

	for id, claimed := range claimedOut {
		if claimed == touched[id] {
			out.Absorbed[id] = true
		}
	}
	return out
}
