package connect

import (
	"fmt"
	"slices"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
)

// NoSelfLoop rejects edges whose source and target are the same node.
func NoSelfLoop(c Candidate, _ core.Graph) error {
	if c.Edge.Source == c.Edge.Target {
		return fmt.Errorf("%w: %q", ErrSelfLoop, c.Edge.Source)
	}
	return nil
}

// NoDuplicate rejects an edge that repeats an existing source handle to
// target handle connection.
func NoDuplicate(c Candidate, g core.Graph) error {
	for _, e := range g.Edges {
		if e.Source == c.Edge.Source && e.Target == c.Edge.Target &&
			e.SourceHandle == c.Edge.SourceHandle && e.Handle() == c.Edge.Handle() {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicate, c.Edge.Source, c.Edge.Target)
		}
	}
	return nil
}

// NoCycle rejects an edge whose target already reaches its source.
func NoCycle(c Candidate, g core.Graph) error {
	if graph.Connected(g, c.Edge.Target, graph.DirectionSource).Contains(c.Edge.Source) {
		return fmt.Errorf("%w: %q already reaches %q", ErrCycle, c.Edge.Target, c.Edge.Source)
	}
	return nil
}

// UniqueSource rejects a second edge from the same source into the same
// target handle, whatever its source handle.
func UniqueSource(c Candidate, g core.Graph) error {
	for _, e := range g.Edges {
		if e.Source == c.Edge.Source && e.Target == c.Edge.Target && e.Handle() == c.Edge.Handle() {
			return fmt.Errorf("%w: %q is already attached to %s.%s", ErrDuplicate, c.Edge.Source, c.Edge.Target, c.Edge.Handle())
		}
	}
	return nil
}

// RejectAll returns a rule that rejects every connection with err.
func RejectAll(err error) Rule {
	return func(c Candidate, _ core.Graph) error {
		return fmt.Errorf("%w: %s", err, c.Target.Type)
	}
}

// MaxIncoming returns a rule that limits the number of edges entering the
// target handle.
func MaxIncoming(n int) Rule {
	return func(c Candidate, g core.Graph) error {
		count := 0
		for _, e := range g.Edges {
			if e.Target == c.Edge.Target && e.Handle() == c.Edge.Handle() {
				count++
			}
		}
		if count >= n {
			return fmt.Errorf("%w: %s.%s accepts at most %d", ErrArity, c.Edge.Target, c.Edge.Handle(), n)
		}
		return nil
	}
}

// SourceTypes returns a rule that accepts only sources of the given types.
func SourceTypes(types ...core.NodeType) Rule {
	allowed := slices.Clone(types)
	return func(c Candidate, _ core.Graph) error {
		if !slices.Contains(allowed, c.Source.Type) {
			return fmt.Errorf("%w: %s cannot feed %s.%s", ErrIncompatible, c.Source.Type, c.Target.Type, c.Edge.Handle())
		}
		return nil
	}
}

func executorTypes() []core.NodeType {
	var out []core.NodeType
	for _, t := range core.AllNodeTypes() {
		if t.IsExecutor() {
			out = append(out, t)
		}
	}
	return out
}

func registerBuiltins(v *Validator) {
	for _, t := range core.AllNodeTypes() {
		key := Key{Type: t, Handle: core.HandleInput}
		switch {
		case t == core.NodeTypeStart:
			v.Register(key, RejectAll(ErrNoInput))
		case t.IsBranching():
			v.Register(key, NoSelfLoop, NoDuplicate, MaxIncoming(1), NoCycle)
		default:
			v.Register(key, NoSelfLoop, NoDuplicate, NoCycle)
		}
	}

	v.Register(Key{Type: core.NodeTypeTaskExecution, Handle: core.HandleExecutorList},
		NoSelfLoop, SourceTypes(executorTypes()...), UniqueSource, NoCycle)
	v.Register(Key{Type: core.NodeTypeAgent, Handle: core.HandleTools},
		NoSelfLoop, SourceTypes(core.NodeTypeTool, core.NodeTypeSkill), UniqueSource, NoCycle)
}
