// Package core provides the foundational types shared by every flowcanvas
// package.
//
// This package contains:
//   - NodeType: the closed set of canvas node kinds
//   - Node, Edge, Graph: the editor state as held by the canvas
//   - NodeData: the per-type configuration union carried by a Node
package core

import (
	"encoding/json"
	"fmt"
)

// NodeType identifies the kind of a canvas node.
type NodeType string

const (
	NodeTypeStart               NodeType = "start"
	NodeTypeAgent               NodeType = "agent"
	NodeTypeLLM                 NodeType = "llm"
	NodeTypeHTTP                NodeType = "http"
	NodeTypeHuman               NodeType = "human"
	NodeTypeCustomCode          NodeType = "custom_code"
	NodeTypeRetriever           NodeType = "retriever"
	NodeTypeVariableAggregation NodeType = "variable_aggregation"
	NodeTypeConditionBranch     NodeType = "condition_branch"
	NodeTypeRequirementCategory NodeType = "requirement_category"
	NodeTypeTaskGeneration      NodeType = "task_generation"
	NodeTypeTaskExecution       NodeType = "task_execution"
	NodeTypeTemplateConversion  NodeType = "template_conversion"
	NodeTypeTool                NodeType = "tool"
	NodeTypeSkill               NodeType = "skill"
	NodeTypeEnd                 NodeType = "end"
)

var allNodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeAgent,
	NodeTypeLLM,
	NodeTypeHTTP,
	NodeTypeHuman,
	NodeTypeCustomCode,
	NodeTypeRetriever,
	NodeTypeVariableAggregation,
	NodeTypeConditionBranch,
	NodeTypeRequirementCategory,
	NodeTypeTaskGeneration,
	NodeTypeTaskExecution,
	NodeTypeTemplateConversion,
	NodeTypeTool,
	NodeTypeSkill,
	NodeTypeEnd,
}

// AllNodeTypes returns every known node type in canonical order.
func AllNodeTypes() []NodeType {
	out := make([]NodeType, len(allNodeTypes))
	copy(out, allNodeTypes)
	return out
}

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// Known reports whether t is one of the built-in node types.
func (t NodeType) Known() bool {
	for _, known := range allNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsBranching reports whether edges leaving a node of this type are
// conditional (one outgoing handle per branch or category).
func (t NodeType) IsBranching() bool {
	return t == NodeTypeConditionBranch || t == NodeTypeRequirementCategory
}

// IsExecutor reports whether a node of this type may be embedded as a child
// executor of a task_execution node.
func (t NodeType) IsExecutor() bool {
	switch t {
	case NodeTypeAgent, NodeTypeLLM, NodeTypeHTTP, NodeTypeCustomCode, NodeTypeTool, NodeTypeSkill:
		return true
	default:
		return false
	}
}

// Well-known handle names.
const (
	HandleInput        = "input"
	HandleOutput       = "output"
	HandleElse         = "else"
	HandleExecutorList = "executor_list"
	HandleTools        = "tools"
)

// Variable value types used in output declarations.
const (
	VarString      = "string"
	VarNumber      = "number"
	VarBoolean     = "boolean"
	VarObject      = "object"
	VarFile        = "file"
	VarArrayString = "array[string]"
	VarArrayObject = "array[object]"
	VarAny         = "any"
)

// Position is the canvas coordinate of a node. The compiler ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OutputInfo describes the variable a node exposes downstream. When Base is
// true the node exposes exactly one variable named Key; otherwise the
// variables are derived from the node configuration.
type OutputInfo struct {
	Key  string `json:"key"`
	Type string `json:"type"`
	Base bool   `json:"base"`
}

// Variable is a named, typed value exposed by a node.
type Variable struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VariableDef is a user-declared field (start inputs, code outputs, human
// input forms, structured LLM output).
type VariableDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// Variable returns the typed variable this definition declares. An empty
// type defaults to string.
func (d VariableDef) Variable() Variable {
	typ := d.Type
	if typ == "" {
		typ = VarString
	}
	return Variable{Name: d.Name, Type: typ}
}

// Node is one configurable step on the canvas.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Level    int      `json:"level"`
	Data     NodeData `json:"data"`
}

// Title returns the human-readable node title, falling back to the ID.
func (n Node) Title() string {
	if n.Data != nil {
		if title := n.Data.Metadata().Title; title != "" {
			return title
		}
	}
	return n.ID
}

// OutputInfo returns the node's declared output info, or nil.
func (n Node) OutputInfo() *OutputInfo {
	if n.Data == nil {
		return nil
	}
	return n.Data.Metadata().OutputInfo
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Data != nil {
		out.Data = n.Data.Clone()
	}
	return out
}

// UnmarshalJSON decodes a node, selecting the configuration struct for
// "data" from "type".
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		Type     NodeType        `json:"type"`
		Position Position        `json:"position"`
		Level    int             `json:"level"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := DecodeData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	*n = Node{
		ID:       raw.ID,
		Type:     raw.Type,
		Position: raw.Position,
		Level:    raw.Level,
		Data:     data,
	}
	return nil
}

// Edge is a directed connection between two node handles.
type Edge struct {
	ID              string   `json:"id"`
	Source          string   `json:"source"`
	Target          string   `json:"target"`
	SourceHandle    string   `json:"sourceHandle,omitempty"`
	TargetHandle    string   `json:"targetHandle,omitempty"`
	Level           int      `json:"level"`
	SourceType      NodeType `json:"sourceType,omitempty"`
	TargetType      NodeType `json:"targetType,omitempty"`
	IsLogicalBranch bool     `json:"is_logical_branch"`
	ConditionID     *string  `json:"condition_id"`
}

// Handle returns the target handle, defaulting to HandleInput.
func (e Edge) Handle() string {
	if e.TargetHandle == "" {
		return HandleInput
	}
	return e.TargetHandle
}

// Clone returns a copy of the edge that shares no pointers with e.
func (e Edge) Clone() Edge {
	out := e
	if e.ConditionID != nil {
		id := *e.ConditionID
		out.ConditionID = &id
	}
	return out
}

// Graph is an immutable-by-convention snapshot of the editor state.
type Graph struct {
	SchemaVersion string `json:"schema_version,omitempty"`
	ID            string `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := g
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	out.Edges = make([]Edge, len(g.Edges))
	for i, e := range g.Edges {
		out.Edges[i] = e.Clone()
	}
	return out
}

// NodeByID returns the node with the given ID.
func (g Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Index maps node IDs to their position in g.Nodes. When IDs repeat, the
// first occurrence wins.
func (g Graph) Index() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := idx[n.ID]; !dup {
			idx[n.ID] = i
		}
	}
	return idx
}
