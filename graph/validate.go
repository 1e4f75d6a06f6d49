package graph

import (
	"fmt"

	"github.com/petal-labs/flowcanvas/core"
)

// Validate checks structural integrity of a canvas graph. It checks rules
// that can be verified without knowing node semantics:
//   - GR-001: edge source/target reference existing nodes
//   - GR-002: orphan nodes (warning)
//   - GR-004: cycle detection
//   - GR-005: duplicate node IDs
//   - GR-012: duplicate edge IDs
func Validate(g core.Graph) []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(g.Nodes))

	// GR-005: duplicate node IDs
	for i, node := range g.Nodes {
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "GR-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		nodeIDs[node.ID] = true
	}

	// GR-012: duplicate edge IDs
	edgeIDs := make(map[string]bool, len(g.Edges))
	for i, edge := range g.Edges {
		if edge.ID == "" {
			continue
		}
		if edgeIDs[edge.ID] {
			diags = append(diags, Diagnostic{
				Code:     "GR-012",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate edge ID %q", edge.ID),
				Path:     fmt.Sprintf("edges[%d].id", i),
			})
		}
		edgeIDs[edge.ID] = true
	}

	// GR-001: edge source/target must reference existing nodes
	for i, edge := range g.Edges {
		if !nodeIDs[edge.Source] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge source %q references unknown node", edge.Source),
				Path:     fmt.Sprintf("edges[%d].source", i),
			})
		}
		if !nodeIDs[edge.Target] {
			diags = append(diags, Diagnostic{
				Code:     "GR-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Edge target %q references unknown node", edge.Target),
				Path:     fmt.Sprintf("edges[%d].target", i),
			})
		}
	}

	// GR-002: orphan nodes, no inbound and no outbound edges
	if len(g.Nodes) > 1 {
		hasInbound := make(map[string]bool)
		hasOutbound := make(map[string]bool)
		for _, edge := range g.Edges {
			hasOutbound[edge.Source] = true
			hasInbound[edge.Target] = true
		}
		for i, node := range g.Nodes {
			if !hasInbound[node.ID] && !hasOutbound[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "GR-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound edges", node.ID),
					Path:     fmt.Sprintf("nodes[%d]", i),
				})
			}
		}
	}

	// GR-004: only run if edges reference valid nodes to avoid confusion.
	if !hasEdgeRefErrors(diags) {
		if cycle := DetectCycle(g.Nodes, g.Edges); len(cycle) > 0 {
			diags = append(diags, Diagnostic{
				Code:     "GR-004",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Graph contains a cycle: %s", describeCycle(cycle)),
			})
		}
	}

	return diags
}

// hasEdgeRefErrors returns true if diagnostics contain GR-001 errors.
func hasEdgeRefErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Code == "GR-001" {
			return true
		}
	}
	return false
}
