package nodes

import (
	"github.com/petal-labs/flowcanvas/catalog"
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
	"github.com/petal-labs/flowcanvas/varref"
)

// Env is the compile-wide state shared by every Scope.
type Env struct {
	Catalog   *catalog.Catalog
	Resources resource.Catalog
	Registry  *Registry

	// OnUnresolved is called for every reference that cannot be resolved,
	// with the ID of the node being lowered.
	OnUnresolved func(nodeID string, ref varref.Reference)
	// OnMissingResource is called for every resource ID not found in
	// Resources.
	OnMissingResource func(nodeID string, kind resource.Kind, id string)
}

// Scope resolves references and resources on behalf of one node.
type Scope struct {
	env    *Env
	nodeID string
	parent *Scope
}

// Scope returns the scope for the top-level node nodeID.
func (e *Env) Scope(nodeID string) *Scope {
	return &Scope{env: e, nodeID: nodeID}
}

// NodeID returns the ID references are resolved from.
func (s *Scope) NodeID() string {
	return s.nodeID
}

// Parent returns the enclosing scope, or nil for a top-level node.
func (s *Scope) Parent() *Scope {
	return s.parent
}

func (s *Scope) resolve(ref varref.Reference) (ir.VarRef, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.env.Catalog == nil {
			continue
		}
		if d, ok := cur.env.Catalog.Resolve(cur.nodeID, ref); ok {
			return ir.VarRef{
				NodeID: d.ID,
				Field:  d.CreateVar.Name,
				Type:   d.Type,
				Token:  varref.Token(d.ID, d.CreateVar.Name),
			}, true
		}
	}
	return ir.VarRef{}, false
}

func (s *Scope) unresolved(ref varref.Reference) {
	if s.env.OnUnresolved != nil {
		s.env.OnUnresolved(s.nodeID, ref)
	}
}

// Ref resolves text holding a single reference token. Empty text yields an
// empty VarRef. Anything that does not resolve keeps its text as Token.
func (s *Scope) Ref(text string) ir.VarRef {
	if text == "" {
		return ir.VarRef{}
	}
	ref, ok := varref.ParseToken(text)
	if !ok {
		for _, r := range varref.Parse(text) {
			s.unresolved(r)
		}
		return ir.VarRef{Token: text}
	}
	if v, ok := s.resolve(ref); ok {
		return v
	}
	s.unresolved(ref)
	return ir.VarRef{Token: text}
}

// Template resolves every reference in text. Variables holds the resolved
// references in order of first appearance.
func (s *Scope) Template(text string) ir.Template {
	t := ir.Template{Text: text, Variables: []ir.VarRef{}}
	for _, ref := range varref.Dedupe(varref.Parse(text)) {
		v, ok := s.resolve(ref)
		if !ok {
			s.unresolved(ref)
			continue
		}
		t.Variables = append(t.Variables, v)
	}
	return t
}

// Params resolves a list of name/template pairs.
func (s *Scope) Params(kvs []core.KeyValue) []ir.Param {
	out := make([]ir.Param, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, ir.Param{Name: kv.Key, Value: s.Template(kv.Value)})
	}
	return out
}

// Bindings resolves a list of name/value bindings.
func (s *Scope) Bindings(bs []core.Binding) []ir.Param {
	out := make([]ir.Param, 0, len(bs))
	for _, b := range bs {
		out = append(out, ir.Param{Name: b.Name, Value: s.Template(b.Value)})
	}
	return out
}

// Resource looks id up in the resource catalog. An empty or unknown ID
// yields a reference carrying only the ID.
func (s *Scope) Resource(kind resource.Kind, id string) ir.ResourceRef {
	out := ir.ResourceRef{ID: id}
	if id == "" {
		return out
	}
	if s.env.Resources != nil {
		if r, ok := s.env.Resources.Lookup(kind, id); ok {
			out.Name = r.Name
			out.Provider = r.Provider
			return out
		}
	}
	if s.env.OnMissingResource != nil {
		s.env.OnMissingResource(s.nodeID, kind, id)
	}
	return out
}

// LowerChild compiles a node embedded in the current one. The child
// resolves references from its own ID first, then from the enclosing
// scopes.
func (s *Scope) LowerChild(child core.Node) ir.Node {
	cs := &Scope{env: s.env, nodeID: child.ID, parent: s}
	reg := s.env.Registry
	if reg == nil {
		reg = Default()
	}
	return reg.Lower(child, cs)
}
