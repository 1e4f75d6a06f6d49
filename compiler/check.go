package compiler

import (
	"fmt"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/nodes"
)

// Check compiles g with default options and runs the consistency pass.
func Check(g core.Graph) []graph.Diagnostic {
	c := New(Options{})
	return c.Check(g, c.Compile(g))
}

// Check is the consistency pass run before a graph is saved. It combines the
// structural checks of graph.Validate with checks against the compiled
// result res (compiled from g when nil):
//   - GR-003: node type has no registered definition (warning)
//   - GR-007: edge enters a handle its target does not declare
//   - GR-013: edge enters an aggregated handle its target could not hold
//   - GR-010: no start node (warning)
//   - GR-011: no end node (warning)
//   - VR-001: reference does not resolve upstream
//   - VR-002: resource ID not in the resource catalog (warning)
//   - CN-001: branch or category with no outgoing edge (warning)
//   - CN-002: branch edge leaves from a handle the source does not emit
//   - CN-004: condition expression is not valid CEL
//   - CN-005: comparison without a variable
//   - CN-006: branch without conditions
//   - CT-001: classifier without categories
func (c *Compiler) Check(g core.Graph, res *Result) []graph.Diagnostic {
	if res == nil {
		res = c.Compile(g)
	}
	idx := g.Index()

	diags := graph.Validate(g)
	diags = append(diags, c.checkNodeTypes(g)...)
	diags = append(diags, c.checkHandles(g, idx)...)
	diags = append(diags, checkTerminals(g)...)
	diags = append(diags, checkRejected(res, g)...)
	diags = append(diags, checkReferences(res, idx)...)
	diags = append(diags, c.checkBranches(g, res, idx)...)
	return diags
}

func nodePath(idx map[string]int, id string) string {
	if i, ok := idx[id]; ok {
		return fmt.Sprintf("nodes[%d]", i)
	}
	return ""
}

func (c *Compiler) checkNodeTypes(g core.Graph) []graph.Diagnostic {
	var diags []graph.Diagnostic
	for i, n := range g.Nodes {
		if c.registry.Has(n.Type) {
			continue
		}
		diags = append(diags, graph.Diagnostic{
			Code:     "GR-003",
			Severity: graph.SeverityWarning,
			Message:  fmt.Sprintf("Node %q has unknown type %q and is passed through uncompiled", n.ID, n.Type),
			Path:     fmt.Sprintf("nodes[%d].type", i),
		})
	}
	return diags
}

func (c *Compiler) checkHandles(g core.Graph, idx map[string]int) []graph.Diagnostic {
	var diags []graph.Diagnostic
	for i, e := range g.Edges {
		ti, ok := idx[e.Target]
		if !ok {
			continue
		}
		def, ok := c.registry.Get(g.Nodes[ti].Type)
		if !ok || def.HasInput(e.Handle()) {
			continue
		}
		diags = append(diags, graph.Diagnostic{
			Code:     "GR-007",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Edge %q enters handle %q, which %s nodes do not accept", e.ID, e.Handle(), def.Type),
			Path:     fmt.Sprintf("edges[%d].targetHandle", i),
		})
	}
	return diags
}

func checkRejected(res *Result, g core.Graph) []graph.Diagnostic {
	if len(res.Rejected) == 0 {
		return nil
	}
	edgeIdx := make(map[string]int, len(g.Edges))
	for i, e := range g.Edges {
		if _, dup := edgeIdx[e.ID]; !dup {
			edgeIdx[e.ID] = i
		}
	}
	var diags []graph.Diagnostic
	for _, r := range res.Rejected {
		d := graph.Diagnostic{
			Code:     "GR-013",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Edge %q feeds %q of node %q, which cannot hold aggregated entries", r.EdgeID, r.Handle, r.Target),
		}
		if i, ok := edgeIdx[r.EdgeID]; ok {
			d.Path = fmt.Sprintf("edges[%d]", i)
		}
		diags = append(diags, d)
	}
	return diags
}

func checkTerminals(g core.Graph) []graph.Diagnostic {
	if len(g.Nodes) == 0 {
		return nil
	}
	var hasStart, hasEnd bool
	for _, n := range g.Nodes {
		switch n.Type {
		case core.NodeTypeStart:
			hasStart = true
		case core.NodeTypeEnd:
			hasEnd = true
		}
	}
	var diags []graph.Diagnostic
	if !hasStart {
		diags = append(diags, graph.Diagnostic{
			Code:     "GR-010",
			Severity: graph.SeverityWarning,
			Message:  "Graph has no start node",
		})
	}
	if !hasEnd {
		diags = append(diags, graph.Diagnostic{
			Code:     "GR-011",
			Severity: graph.SeverityWarning,
			Message:  "Graph has no end node",
		})
	}
	return diags
}

func checkReferences(res *Result, idx map[string]int) []graph.Diagnostic {
	var diags []graph.Diagnostic
	for _, u := range res.Unresolved {
		diags = append(diags, graph.Diagnostic{
			Code:     "VR-001",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("Node %q references %s, which is not an output of any upstream node", u.NodeID, u.Token),
			Path:     nodePath(idx, u.NodeID),
		})
	}
	for _, m := range res.MissingResources {
		diags = append(diags, graph.Diagnostic{
			Code:     "VR-002",
			Severity: graph.SeverityWarning,
			Message:  fmt.Sprintf("Node %q uses %s %q, which is not in the resource catalog", m.NodeID, m.Kind, m.ID),
			Path:     nodePath(idx, m.NodeID),
		})
	}
	return diags
}

func (c *Compiler) checkBranches(g core.Graph, res *Result, idx map[string]int) []graph.Diagnostic {
	if res.Workflow == nil {
		return nil
	}
	used := make(map[string]map[string]bool)
	for _, e := range g.Edges {
		if used[e.Source] == nil {
			used[e.Source] = make(map[string]bool)
		}
		used[e.Source][e.SourceHandle] = true
	}

	var diags []graph.Diagnostic
	for _, n := range res.Workflow.Nodes {
		path := nodePath(idx, n.NodeID())
		switch v := n.(type) {
		case *ir.ConditionBranchNode:
			diags = append(diags, c.checkConditions(v, path)...)
		case *ir.RequirementCategoryNode:
			if len(v.Categories) == 0 {
				diags = append(diags, graph.Diagnostic{
					Code:     "CT-001",
					Severity: graph.SeverityError,
					Message:  fmt.Sprintf("Classifier %q has no categories", v.ID),
					Path:     path + ".data.categories",
				})
			}
		}

		brancher, ok := n.(ir.Brancher)
		if !ok {
			continue
		}
		handles := make(map[string]bool)
		for _, t := range brancher.BranchTargets() {
			handles[t.Handle] = true
			if t.Handle == core.HandleElse || used[n.NodeID()][t.Handle] {
				continue
			}
			diags = append(diags, graph.Diagnostic{
				Code:     "CN-001",
				Severity: graph.SeverityWarning,
				Message:  fmt.Sprintf("Branch %q of node %q has no outgoing edge", t.ConditionID, n.NodeID()),
				Path:     path,
			})
		}
		for i, e := range g.Edges {
			if e.Source != n.NodeID() || handles[e.SourceHandle] {
				continue
			}
			diags = append(diags, graph.Diagnostic{
				Code:     "CN-002",
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("Edge %q leaves node %q from handle %q, which matches no branch", e.ID, n.NodeID(), e.SourceHandle),
				Path:     fmt.Sprintf("edges[%d].sourceHandle", i),
			})
		}
	}
	return diags
}

func (c *Compiler) checkConditions(n *ir.ConditionBranchNode, path string) []graph.Diagnostic {
	var diags []graph.Diagnostic
	for bi, b := range n.Branches {
		bpath := fmt.Sprintf("%s.data.branches[%d]", path, bi)
		if len(b.Conditions) == 0 {
			diags = append(diags, graph.Diagnostic{
				Code:     "CN-006",
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("Branch %q of node %q has no conditions", b.ID, n.ID),
				Path:     bpath,
			})
		}
		for ci, cmp := range b.Conditions {
			cpath := fmt.Sprintf("%s.conditions[%d]", bpath, ci)
			if cmp.Operator == nodes.OperatorExpression {
				if err := c.exprs.Check(cmp.Value.Text); err != nil {
					diags = append(diags, graph.Diagnostic{
						Code:     "CN-004",
						Severity: graph.SeverityError,
						Message:  fmt.Sprintf("Branch %q of node %q: %v", b.ID, n.ID, err),
						Path:     cpath + ".value",
					})
				}
				continue
			}
			if cmp.Variable.Token == "" {
				diags = append(diags, graph.Diagnostic{
					Code:     "CN-005",
					Severity: graph.SeverityError,
					Message:  fmt.Sprintf("Branch %q of node %q compares nothing", b.ID, n.ID),
					Path:     cpath + ".variable",
				})
			}
		}
	}
	return diags
}
