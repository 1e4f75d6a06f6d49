// Package registry provides the node-type registry for flowcanvas.
// It maps canvas node types to metadata (handles, category, display name)
// used by the connection validator, the compiler's consistency check, the
// server API and the CLI.
package registry

import (
	"sync"

	"github.com/petal-labs/flowcanvas/core"
)

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type        core.NodeType `json:"type"`
	Category    string        `json:"category"` // "entry", "ai", "tool", "control", "data", "human", "exit"
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	Handles     HandleSchema  `json:"handles"`
	// DynamicOutputs is set when the output handles are derived from the
	// node configuration (one per branch or category).
	DynamicOutputs bool `json:"dynamic_outputs"`
	// Executor is set when the type may be embedded in a task_execution
	// node's executor list.
	Executor bool `json:"executor"`
}

// HandleSchema defines the input and output handles for a node type.
type HandleSchema struct {
	Inputs  []HandleDef `json:"inputs"`
	Outputs []HandleDef `json:"outputs"`
}

// HandleDef describes a single handle on a node type.
type HandleDef struct {
	Name     string `json:"name"`
	Multiple bool   `json:"multiple"` // accepts more than one edge
	// Structural handles fold their sources into the node configuration
	// instead of producing dependency edges.
	Structural  bool   `json:"structural,omitempty"`
	Description string `json:"description,omitempty"`
}

// HasInput reports whether the type declares an input handle named name.
func (d NodeTypeDef) HasInput(name string) bool {
	for _, h := range d.Handles.Inputs {
		if h.Name == name {
			return true
		}
	}
	return false
}

// HasOutput reports whether name is a valid output handle. Types with
// dynamic outputs accept any handle name.
func (d NodeTypeDef) HasOutput(name string) bool {
	if d.DynamicOutputs {
		return true
	}
	for _, h := range d.Handles.Outputs {
		if h.Name == name {
			return true
		}
	}
	return false
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in node types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// Registry holds all known node types.
type Registry struct {
	mu    sync.RWMutex
	types map[core.NodeType]NodeTypeDef
	order []core.NodeType // preserves registration order
}

// New returns a registry holding the built-in node types.
func New() *Registry {
	r := newRegistry()
	registerBuiltins(r)
	return r
}

func newRegistry() *Registry {
	return &Registry{
		types: make(map[core.NodeType]NodeTypeDef),
	}
}

// Register adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node type definition by type name.
func (r *Registry) Get(t core.NodeType) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[t]
	return def, ok
}

// Has returns true if the type name is registered.
func (r *Registry) Has(t core.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// All returns all registered node types in registration order.
// Used by GET /api/node-types and the node-types command.
func (r *Registry) All() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
