// Package nodes lowers canvas nodes into compiled IR nodes. Each node type
// has one Lowerer; a Registry dispatches on the node type and passes unknown
// types through untouched.
package nodes

import (
	"slices"
	"sync"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/varref"
)

// NodeContext lists the upstream references a lowered node consumes. Inputs
// are the references in the node's primary fields; Context holds those in
// supporting fields such as system prompts and instructions. Each list is
// deduplicated by (identifier, field name).
type NodeContext struct {
	Inputs  []varref.Reference `json:"inputs,omitempty"`
	Context []varref.Reference `json:"context,omitempty"`
}

// Empty reports whether the node consumes no references.
func (c NodeContext) Empty() bool {
	return len(c.Inputs) == 0 && len(c.Context) == 0
}

// All returns inputs and context references, deduplicated.
func (c NodeContext) All() []varref.Reference {
	return varref.Dedupe(append(slices.Clone(c.Inputs), c.Context...))
}

func newContext(inputs, context []string) NodeContext {
	return NodeContext{
		Inputs:  varref.Dedupe(varref.ParseAll(inputs...)),
		Context: varref.Dedupe(varref.ParseAll(context...)),
	}
}

// Lowerer compiles one node type.
type Lowerer interface {
	// Type returns the node type handled.
	Type() core.NodeType
	// Lower compiles n. It never fails: unresolvable references and
	// resources degrade to empty values and are reported through the scope.
	Lower(n core.Node, s *Scope) ir.Node
	// Variables returns what a node of this type exposes downstream when its
	// outputInfo is not a single base variable.
	Variables(n core.Node) []core.Variable
	// Context returns the references the lowered node consumes.
	Context(n ir.Node) NodeContext
}

// Registry maps node types to lowerers.
type Registry struct {
	mu       sync.RWMutex
	lowerers map[core.NodeType]Lowerer
	order    []core.NodeType
}

// NewRegistry returns a registry holding ls.
func NewRegistry(ls ...Lowerer) *Registry {
	r := &Registry{lowerers: make(map[core.NodeType]Lowerer)}
	for _, l := range ls {
		r.Register(l)
	}
	return r
}

// Default returns a registry with a lowerer for every built-in node type.
func Default() *Registry {
	r := NewRegistry(
		startLowerer{},
		agentLowerer{},
		llmLowerer{},
		httpLowerer{},
		humanLowerer{},
		customCodeLowerer{},
		retrieverLowerer{},
		variableAggregationLowerer{},
		conditionBranchLowerer{},
		requirementCategoryLowerer{},
		taskGenerationLowerer{},
	)
	r.Register(&taskExecutionLowerer{registry: r})
	r.Register(templateConversionLowerer{})
	r.Register(toolLowerer{})
	r.Register(skillLowerer{})
	r.Register(endLowerer{})
	return r
}

// Register adds or replaces the lowerer for l.Type().
func (r *Registry) Register(l Lowerer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lowerers[l.Type()]; !exists {
		r.order = append(r.order, l.Type())
	}
	r.lowerers[l.Type()] = l
}

// Get returns the lowerer for t.
func (r *Registry) Get(t core.NodeType) (Lowerer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lowerers[t]
	return l, ok
}

// Types returns the registered node types in registration order.
func (r *Registry) Types() []core.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Lower compiles n with its type's lowerer, or wraps it in an
// ir.Passthrough when no lowerer is registered.
func (r *Registry) Lower(n core.Node, s *Scope) ir.Node {
	l, ok := r.Get(n.Type)
	if !ok {
		var data core.NodeData
		if n.Data != nil {
			data = n.Data.Clone()
		}
		return &ir.Passthrough{Header: header(n), Data: data}
	}
	return l.Lower(n, s)
}

// Variables implements catalog.Declarer.
func (r *Registry) Variables(n core.Node) []core.Variable {
	l, ok := r.Get(n.Type)
	if !ok {
		return nil
	}
	return l.Variables(n)
}

// Context returns the references consumed by a lowered node. Passthrough
// nodes consume nothing.
func (r *Registry) Context(n ir.Node) NodeContext {
	if _, ok := n.(*ir.Passthrough); ok {
		return NodeContext{}
	}
	l, ok := r.Get(n.NodeType())
	if !ok {
		return NodeContext{}
	}
	return l.Context(n)
}

func header(n core.Node) ir.Header {
	return ir.Header{ID: n.ID, Type: n.Type, Title: n.Title(), Level: n.Level}
}

// configOf returns n's configuration as *T, or a zero value when the node
// carries something else.
func configOf[T any](n core.Node) *T {
	if d, ok := any(n.Data).(*T); ok && d != nil {
		return d
	}
	return new(T)
}

func variables(defs []core.VariableDef) []core.Variable {
	if len(defs) == 0 {
		return nil
	}
	out := make([]core.Variable, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		out = append(out, d.Variable())
	}
	return out
}

func paramTexts(params []ir.Param) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		out = append(out, p.Value.Text)
	}
	return out
}
