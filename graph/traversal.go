package graph

import "github.com/petal-labs/flowcanvas/core"

// Direction selects which end of an edge a traversal follows.
type Direction string

const (
	// DirectionSource follows edges whose source is the current node
	// (downstream).
	DirectionSource Direction = "source"
	// DirectionTarget follows edges whose target is the current node
	// (upstream).
	DirectionTarget Direction = "target"
)

// Reachable is the result of a traversal. Nodes are listed in discovery
// order; each traversed edge appears once.
type Reachable struct {
	Nodes []string    `json:"nodes"`
	Edges []core.Edge `json:"edges"`
}

// Contains reports whether id was reached.
func (r Reachable) Contains(id string) bool {
	for _, n := range r.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// Connected walks g depth-first from nodeID in the given direction. The
// starting node is excluded from the result unless it is a start node.
// Edges are followed in insertion order and revisits are skipped, so the
// walk terminates on cyclic graphs. Edges pointing at missing nodes are
// reported but not followed.
func Connected(g core.Graph, nodeID string, dir Direction) Reachable {
	adj := make(map[string][]int)
	for i, e := range g.Edges {
		from := e.Source
		if dir == DirectionTarget {
			from = e.Target
		}
		adj[from] = append(adj[from], i)
	}

	idx := g.Index()
	var out Reachable
	visited := map[string]bool{nodeID: true}
	if n, ok := g.NodeByID(nodeID); ok && n.Type == core.NodeTypeStart {
		out.Nodes = append(out.Nodes, nodeID)
	}

	var walk func(current string)
	walk = func(current string) {
		for _, i := range adj[current] {
			e := g.Edges[i]
			out.Edges = append(out.Edges, e.Clone())
			next := e.Target
			if dir == DirectionTarget {
				next = e.Source
			}
			if _, exists := idx[next]; !exists || visited[next] {
				continue
			}
			visited[next] = true
			out.Nodes = append(out.Nodes, next)
			walk(next)
		}
	}
	walk(nodeID)

	return out
}
