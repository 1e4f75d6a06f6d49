// Package connect decides whether a proposed edge may be added to a canvas
// graph. Rules are keyed by the target node type and target handle; a
// connection with no matching rule is accepted.
package connect

import (
	"errors"
	"fmt"
	"slices"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/registry"
)

// Rejection reasons. Errors returned by Check wrap exactly one of these.
var (
	ErrSelfLoop      = errors.New("connection loops back to its source")
	ErrDuplicate     = errors.New("connection already exists")
	ErrCycle         = errors.New("connection would create a cycle")
	ErrArity         = errors.New("handle accepts no more connections")
	ErrIncompatible  = errors.New("source node type is not accepted by this handle")
	ErrNoInput       = errors.New("node type accepts no incoming connections")
	ErrUnknownNode   = errors.New("connection references an unknown node")
	ErrUnknownHandle = errors.New("target handle is not declared by the node type")
)

// Key selects the rules for a connection.
type Key struct {
	Type   core.NodeType
	Handle string
}

// Candidate is a proposed connection with its resolved endpoints.
type Candidate struct {
	Edge   core.Edge
	Source core.Node
	Target core.Node
}

// Rule inspects a candidate against the current graph and returns a non-nil
// error to reject it. Rules must not modify g.
type Rule func(c Candidate, g core.Graph) error

// Option configures a Validator.
type Option func(*Validator)

// WithRegistry makes the validator reject target handles that a registered
// node type does not declare. Types missing from the registry are not
// checked.
func WithRegistry(r *registry.Registry) Option {
	return func(v *Validator) {
		v.registry = r
	}
}

// Validator holds the rule table.
type Validator struct {
	rules    map[Key][]Rule
	registry *registry.Registry
}

// New returns a validator with an empty rule table.
func New(opts ...Option) *Validator {
	v := &Validator{rules: make(map[Key][]Rule)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Default returns a validator loaded with the built-in rules and the global
// node-type registry.
func Default(opts ...Option) *Validator {
	v := New(append([]Option{WithRegistry(registry.Global())}, opts...)...)
	registerBuiltins(v)
	return v
}

// Register appends rules for key. Rules run in registration order and the
// first rejection wins.
func (v *Validator) Register(key Key, rules ...Rule) {
	v.rules[key] = append(v.rules[key], rules...)
}

// Rules returns the rules registered for key.
func (v *Validator) Rules(key Key) []Rule {
	return slices.Clone(v.rules[key])
}

// Check returns nil when proposed may be added to g, or an error wrapping
// one of the package's sentinel errors.
func (v *Validator) Check(proposed core.Edge, g core.Graph) error {
	source, ok := g.NodeByID(proposed.Source)
	if !ok {
		return fmt.Errorf("%w: source %q", ErrUnknownNode, proposed.Source)
	}
	target, ok := g.NodeByID(proposed.Target)
	if !ok {
		return fmt.Errorf("%w: target %q", ErrUnknownNode, proposed.Target)
	}

	handle := proposed.Handle()
	if v.registry != nil {
		if def, ok := v.registry.Get(target.Type); ok && !def.HasInput(handle) {
			if len(def.Handles.Inputs) == 0 {
				return fmt.Errorf("%w: %s", ErrNoInput, target.Type)
			}
			return fmt.Errorf("%w: %s has no %q handle", ErrUnknownHandle, target.Type, handle)
		}
	}

	c := Candidate{Edge: proposed, Source: source, Target: target}
	for _, rule := range v.rules[Key{Type: target.Type, Handle: handle}] {
		if err := rule(c, g); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether proposed may be added to g.
func (v *Validator) Validate(proposed core.Edge, g core.Graph) bool {
	return v.Check(proposed, g) == nil
}
