// Package catalog answers "which variables can this node reference": it walks
// the graph upstream from a node and lists every variable the reachable nodes
// expose, with a display label and the token used to reference it.
package catalog

import (
	"cmp"
	"slices"
	"sync"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/varref"
)

// Declarer reports the variables a node exposes to its downstream consumers
// when its outputInfo is not a single base variable.
type Declarer interface {
	Variables(n core.Node) []core.Variable
}

// DeclarerFunc adapts a function to the Declarer interface.
type DeclarerFunc func(n core.Node) []core.Variable

// Variables calls f(n).
func (f DeclarerFunc) Variables(n core.Node) []core.Variable {
	return f(n)
}

// Descriptor describes one referenceable upstream variable.
type Descriptor struct {
	Title     string        `json:"title"` // upstream node title
	Type      string        `json:"type"`
	ID        string        `json:"id"` // upstream node ID
	Label     string        `json:"label"`
	Value     string        `json:"value"` // reference token
	CreateVar core.Variable `json:"createVar"`
}

// Catalog computes descriptors over a fixed graph snapshot. Results are
// memoized per node; a Catalog is safe for concurrent use.
type Catalog struct {
	g        core.Graph
	declarer Declarer

	mu    sync.Mutex
	cache map[string][]Descriptor
}

// New returns a catalog over g. A nil declarer means only base outputs are
// visible.
func New(g core.Graph, d Declarer) *Catalog {
	return &Catalog{g: g, declarer: d, cache: make(map[string][]Descriptor)}
}

// Graph returns the snapshot the catalog was built over.
func (c *Catalog) Graph() core.Graph {
	return c.g
}

// Exposed returns the variables n makes available downstream, sorted by name
// with duplicates removed. Nodes without outputInfo expose nothing.
func (c *Catalog) Exposed(n core.Node) []core.Variable {
	info := n.OutputInfo()
	if info == nil {
		return nil
	}
	var vars []core.Variable
	if info.Base {
		typ := info.Type
		if typ == "" {
			typ = core.VarString
		}
		vars = []core.Variable{{Name: info.Key, Type: typ}}
	} else if c.declarer != nil {
		vars = slices.Clone(c.declarer.Variables(n))
	}

	slices.SortStableFunc(vars, func(a, b core.Variable) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return slices.CompactFunc(vars, func(a, b core.Variable) bool {
		return a.Name == b.Name
	})
}

// OutputVariables lists every variable exposed by the nodes upstream of
// nodeID, in traversal order and then by variable name. The node itself is
// never included.
func (c *Catalog) OutputVariables(nodeID string) []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[nodeID]; ok {
		return slices.Clone(cached)
	}

	var out []Descriptor
	reach := graph.Connected(c.g, nodeID, graph.DirectionTarget)
	for _, id := range reach.Nodes {
		if id == nodeID {
			continue
		}
		upstream, ok := c.g.NodeByID(id)
		if !ok {
			continue
		}
		title := upstream.Title()
		for _, v := range c.Exposed(upstream) {
			out = append(out, Descriptor{
				Title:     title,
				Type:      v.Type,
				ID:        upstream.ID,
				Label:     title + "." + v.Name,
				Value:     varref.Token(upstream.ID, v.Name),
				CreateVar: v,
			})
		}
	}
	c.cache[nodeID] = out
	return slices.Clone(out)
}

// Resolve finds the descriptor a reference points at, as seen from nodeID.
// The reference's IO type is not significant.
func (c *Catalog) Resolve(nodeID string, ref varref.Reference) (Descriptor, bool) {
	for _, d := range c.OutputVariables(nodeID) {
		if d.ID == ref.Identifier && d.CreateVar.Name == ref.FieldName {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Lookup resolves a single stored token back to its descriptor.
func (c *Catalog) Lookup(nodeID, token string) (Descriptor, bool) {
	ref, ok := varref.ParseToken(token)
	if !ok {
		return Descriptor{}, false
	}
	return c.Resolve(nodeID, ref)
}

// Downstream returns the IDs of the nodes reachable from nodeID, i.e. the
// nodes whose references may break if nodeID changes.
func (c *Catalog) Downstream(nodeID string) []string {
	reach := graph.Connected(c.g, nodeID, graph.DirectionSource)
	out := make([]string, 0, len(reach.Nodes))
	for _, id := range reach.Nodes {
		if id != nodeID {
			out = append(out, id)
		}
	}
	return out
}
