// Package ir defines the compiled workflow handed to the execution backend.
// Every node type has its own struct; all of them marshal with a "type"
// discriminator taken from the Header.
package ir

import "github.com/petal-labs/flowcanvas/core"

// Node is one compiled node.
type Node interface {
	NodeID() string
	NodeType() core.NodeType
}

// Brancher is implemented by nodes whose outgoing edges are conditional. Each
// target names the source handle an edge leaves from and the condition ID
// the backend evaluates for it.
type Brancher interface {
	Node
	BranchTargets() []BranchTarget
}

// BranchTarget pairs an output handle with its condition ID.
type BranchTarget struct {
	Handle      string `json:"handle"`
	ConditionID string `json:"condition_id"`
}

// Header carries the fields shared by every compiled node.
type Header struct {
	ID    string        `json:"id"`
	Type  core.NodeType `json:"type"`
	Title string        `json:"title"`
	Level int           `json:"level"`
}

// NodeID returns the node ID.
func (h Header) NodeID() string { return h.ID }

// NodeType returns the node type.
func (h Header) NodeType() core.NodeType { return h.Type }

// VarRef is a resolved variable reference. An unresolved reference keeps its
// Token and leaves the other fields empty.
type VarRef struct {
	NodeID string `json:"node_id"`
	Field  string `json:"field"`
	Type   string `json:"type"`
	Token  string `json:"token"`
}

// Resolved reports whether the reference was found upstream.
func (r VarRef) Resolved() bool {
	return r.NodeID != ""
}

// Template is free text with its resolved references. Text is kept verbatim;
// Variables lists, in order of first appearance, the references that
// resolved.
type Template struct {
	Text      string   `json:"text"`
	Variables []VarRef `json:"variables"`
}

// ResourceRef points at a catalog resource. Name and Provider are empty when
// the ID is not in the catalog.
type ResourceRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Param is a named template (HTTP header, tool parameter, code input).
type Param struct {
	Name  string   `json:"name"`
	Value Template `json:"value"`
}

// Edge is a compiled dependency or branch edge.
type Edge struct {
	Level           int           `json:"level"`
	SourceNodeID    string        `json:"source_node_id"`
	TargetNodeID    string        `json:"target_node_id"`
	SourceNodeType  core.NodeType `json:"source_node_type"`
	TargetNodeType  core.NodeType `json:"target_node_type"`
	IsLogicalBranch bool          `json:"is_logical_branch"`
	ConditionID     *string       `json:"condition_id"`
	OriginalEdgeID  string        `json:"original_edge_id"`
}

// Workflow is the complete compiled document.
type Workflow struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Version  string            `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Nodes    []Node            `json:"nodes"`
	Edges    []Edge            `json:"edges"`
}

// Node returns the compiled node with the given ID.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.NodeID() == id {
			return n, true
		}
	}
	return nil, false
}
