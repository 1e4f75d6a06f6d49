// Package editor holds the canonical canvas state. Every edit is an atomic
// replace or merge under one lock, which serialises edits the way the
// canvas update queue does. Readers get deep copies; compiling never writes
// back into the state.
package editor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/petal-labs/flowcanvas/catalog"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/connect"
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeExists   = errors.New("edge already exists")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrDataType     = errors.New("node data does not match node type")
)

// Option configures a State.
type Option func(*State)

// WithValidator sets the connection validator. Defaults to connect.Default().
func WithValidator(v *connect.Validator) Option {
	return func(s *State) {
		s.validator = v
	}
}

// WithCompiler sets the compiler used by Compile and Check.
func WithCompiler(c *compiler.Compiler) Option {
	return func(s *State) {
		s.compiler = c
	}
}

// WithIDGenerator replaces uuid generation for new nodes and edges.
func WithIDGenerator(fn func() string) Option {
	return func(s *State) {
		s.newID = fn
	}
}

// State is the editor-state container.
type State struct {
	mu    sync.RWMutex
	graph core.Graph

	validator *connect.Validator
	compiler  *compiler.Compiler
	newID     func() string
}

// New returns a state holding a copy of g.
func New(g core.Graph, opts ...Option) *State {
	s := &State{graph: g.Clone(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = connect.Default()
	}
	if s.compiler == nil {
		s.compiler = compiler.New(compiler.Options{})
	}
	return s
}

// Snapshot returns a deep copy of the current graph.
func (s *State) Snapshot() core.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

func (s *State) indexOf(id string) int {
	for i, n := range s.graph.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func checkData(t core.NodeType, data core.NodeData) error {
	if data != nil && data.NodeType() != t {
		return fmt.Errorf("%w: %s data on %s node", ErrDataType, data.NodeType(), t)
	}
	return nil
}

// AddNode adds n and returns it as stored. An empty ID is generated; nil
// data becomes the empty configuration for the node's type.
func (s *State) AddNode(n core.Node) (core.Node, error) {
	if err := checkData(n.Type, n.Data); err != nil {
		return core.Node{}, err
	}
	n = n.Clone()
	if n.Data == nil {
		n.Data = core.NewData(n.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = s.newID()
	}
	if s.indexOf(n.ID) >= 0 {
		return core.Node{}, fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	s.graph.Nodes = append(s.graph.Nodes, n)
	return n.Clone(), nil
}

// RemoveNode removes a node and every edge touching it.
func (s *State) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	kept := make([]core.Node, 0, len(s.graph.Nodes)-1)
	kept = append(kept, s.graph.Nodes[:i]...)
	s.graph.Nodes = append(kept, s.graph.Nodes[i+1:]...)

	edges := s.graph.Edges[:0:0]
	for _, e := range s.graph.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	s.graph.Edges = edges
	return nil
}

// UpdateNodeData replaces a node's configuration. Nil resets it to empty.
func (s *State) UpdateNodeData(id string, data core.NodeData) error {
	return s.MergeNodeData(id, func(core.NodeData) core.NodeData {
		if data == nil {
			return nil
		}
		return data.Clone()
	})
}

// MergeNodeData applies fn to a copy of the node's configuration and stores
// the result. fn runs under the state lock and must not call back into s.
func (s *State) MergeNodeData(id string, fn func(core.NodeData) core.NodeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n := s.graph.Nodes[i]
	current := n.Data
	if current == nil {
		current = core.NewData(n.Type)
	}
	next := fn(current.Clone())
	if next == nil {
		next = core.NewData(n.Type)
	}
	if err := checkData(n.Type, next); err != nil {
		return err
	}
	s.graph.Nodes[i].Data = next
	return nil
}

// MoveNode updates a node's canvas position.
func (s *State) MoveNode(id string, pos core.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	s.graph.Nodes[i].Position = pos
	return nil
}

// Connect validates e against the current graph and adds it. An empty ID
// is generated. Level and endpoint types are left for the compiler.
func (s *State) Connect(e core.Edge) (core.Edge, error) {
	e = e.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = s.newID()
	}
	for _, existing := range s.graph.Edges {
		if existing.ID == e.ID {
			return core.Edge{}, fmt.Errorf("%w: %q", ErrEdgeExists, e.ID)
		}
	}
	if err := s.validator.Check(e, s.graph); err != nil {
		return core.Edge{}, fmt.Errorf("connecting %s -> %s: %w", e.Source, e.Target, err)
	}
	s.graph.Edges = append(s.graph.Edges, e)
	return e.Clone(), nil
}

// CanConnect reports why e would be rejected, or nil.
func (s *State) CanConnect(e core.Edge) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validator.Check(e, s.graph)
}

// Disconnect removes an edge by ID.
func (s *State) Disconnect(edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.graph.Edges {
		if e.ID == edgeID {
			edges := make([]core.Edge, 0, len(s.graph.Edges)-1)
			edges = append(edges, s.graph.Edges[:i]...)
			s.graph.Edges = append(edges, s.graph.Edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
}

// Compile compiles a snapshot of the current state.
func (s *State) Compile() *compiler.Result {
	return s.compiler.Compile(s.Snapshot())
}

// Check compiles a snapshot and runs the consistency pass over it.
func (s *State) Check() (*compiler.Result, []graph.Diagnostic) {
	g := s.Snapshot()
	res := s.compiler.Compile(g)
	return res, s.compiler.Check(g, res)
}

// OutputVariables lists the variables nodeID can reference. Children
// aggregated into a parent are not upstream of anything, matching what the
// compiler resolves.
func (s *State) OutputVariables(nodeID string) []catalog.Descriptor {
	return s.compiler.Catalog(s.Snapshot()).OutputVariables(nodeID)
}
