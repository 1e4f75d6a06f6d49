package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// NodeData is the configuration carried by a Node. There is one
// implementation per NodeType; UnknownData holds anything else.
type NodeData interface {
	NodeType() NodeType
	Metadata() Meta
	Clone() NodeData
}

// Aggregating is implemented by configurations that receive a structural
// list of child entries through a special input handle. WithAggregated
// returns a copy with the list for handle replaced; ok is false when the
// handle is not one the configuration owns.
type Aggregating interface {
	NodeData
	WithAggregated(handle string, items []any) (data NodeData, ok bool)
}

// Meta holds the fields common to every node configuration.
type Meta struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	OutputInfo  *OutputInfo `json:"outputInfo,omitempty"`
}

// Metadata returns the common fields.
func (m Meta) Metadata() Meta {
	return m
}

func (m Meta) clone() Meta {
	out := m
	if m.OutputInfo != nil {
		info := *m.OutputInfo
		out.OutputInfo = &info
	}
	return out
}

// KeyValue is a name/template pair (HTTP headers and params, tool params).
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Binding binds a local name to a text or reference token.
type Binding struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPBody is the request body of an http node.
type HTTPBody struct {
	Type    string `json:"type,omitempty"` // none | json | form | raw
	Content string `json:"content,omitempty"`
}

// Condition compares a referenced variable against a value. When Operator is
// "expression", Value holds a CEL expression and Variable may be empty.
type Condition struct {
	Variable string `json:"variable,omitempty"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
}

// Branch is one case of a condition_branch node.
type Branch struct {
	ID         string      `json:"id"`
	Logic      string      `json:"logic,omitempty"` // and | or
	Conditions []Condition `json:"conditions"`
}

// Category is one class of a requirement_category node.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolBinding is an aggregated reference to a tool or skill node connected to
// an agent's tools handle.
type ToolBinding struct {
	CurrentID  string   `json:"currentId"`
	Type       NodeType `json:"type"`
	ResourceID string   `json:"resourceId"`
	Title      string   `json:"title,omitempty"`
}

// Executor is a child node embedded in a task_execution node. CurrentID is
// the child's own node ID and is what its references resolve against.
type Executor struct {
	CurrentID string   `json:"currentId"`
	Index     int      `json:"index"`
	Type      NodeType `json:"type"`
	Data      NodeData `json:"data"`
}

// Node returns the executor as a standalone node.
func (e Executor) Node() Node {
	return Node{ID: e.CurrentID, Type: e.Type, Data: e.Data}
}

// UnmarshalJSON decodes an executor, selecting the data struct from type.
func (e *Executor) UnmarshalJSON(b []byte) error {
	var raw struct {
		CurrentID string          `json:"currentId"`
		Index     int             `json:"index"`
		Type      NodeType        `json:"type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	data, err := DecodeData(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("executor %q: %w", raw.CurrentID, err)
	}
	*e = Executor{CurrentID: raw.CurrentID, Index: raw.Index, Type: raw.Type, Data: data}
	return nil
}

func (e Executor) clone() Executor {
	out := e
	if e.Data != nil {
		out.Data = e.Data.Clone()
	}
	return out
}

// StartData configures the workflow entry node.
type StartData struct {
	Meta
	Variables []VariableDef `json:"variables,omitempty"`
}

func (*StartData) NodeType() NodeType { return NodeTypeStart }

func (d *StartData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Variables = slices.Clone(d.Variables)
	return &out
}

// AgentData configures a call to a pre-built agent.
type AgentData struct {
	Meta
	AgentID string        `json:"agent_id"`
	Prompt  string        `json:"prompt"`
	Tools   []ToolBinding `json:"tools,omitempty"`
}

func (*AgentData) NodeType() NodeType { return NodeTypeAgent }

func (d *AgentData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Tools = slices.Clone(d.Tools)
	return &out
}

// WithAggregated replaces the tool list when handle is HandleTools.
func (d *AgentData) WithAggregated(handle string, items []any) (NodeData, bool) {
	if handle != HandleTools {
		return d, false
	}
	out := d.Clone().(*AgentData)
	out.Tools = make([]ToolBinding, 0, len(items))
	for _, item := range items {
		if tb, ok := item.(ToolBinding); ok {
			out.Tools = append(out.Tools, tb)
		}
	}
	return out, true
}

// LLMData configures a single model call.
type LLMData struct {
	Meta
	ModelID        string        `json:"model_id"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	UserPrompt     string        `json:"user_prompt"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat string        `json:"response_format,omitempty"` // text | json
	OutputFields   []VariableDef `json:"output_fields,omitempty"`
}

func (*LLMData) NodeType() NodeType { return NodeTypeLLM }

func (d *LLMData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	if d.Temperature != nil {
		t := *d.Temperature
		out.Temperature = &t
	}
	out.OutputFields = slices.Clone(d.OutputFields)
	return &out
}

// HTTPData configures an outbound HTTP request.
type HTTPData struct {
	Meta
	Method         string     `json:"method"`
	URL            string     `json:"url"`
	Headers        []KeyValue `json:"headers,omitempty"`
	Params         []KeyValue `json:"params,omitempty"`
	Body           HTTPBody   `json:"body"`
	TimeoutSeconds int        `json:"timeout_seconds,omitempty"`
}

func (*HTTPData) NodeType() NodeType { return NodeTypeHTTP }

func (d *HTTPData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Headers = slices.Clone(d.Headers)
	out.Params = slices.Clone(d.Params)
	return &out
}

// HumanData configures a human-in-the-loop step.
type HumanData struct {
	Meta
	Mode           string        `json:"mode"` // approval | input
	Prompt         string        `json:"prompt"`
	Fields         []VariableDef `json:"fields,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
}

func (*HumanData) NodeType() NodeType { return NodeTypeHuman }

func (d *HumanData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Fields = slices.Clone(d.Fields)
	return &out
}

// CustomCodeData configures a sandboxed code step.
type CustomCodeData struct {
	Meta
	Language string        `json:"language"`
	Code     string        `json:"code"`
	Inputs   []Binding     `json:"inputs,omitempty"`
	Outputs  []VariableDef `json:"outputs,omitempty"`
}

func (*CustomCodeData) NodeType() NodeType { return NodeTypeCustomCode }

func (d *CustomCodeData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Inputs = slices.Clone(d.Inputs)
	out.Outputs = slices.Clone(d.Outputs)
	return &out
}

// RetrieverData configures a knowledge-base query.
type RetrieverData struct {
	Meta
	DatasetIDs     []string `json:"dataset_ids"`
	Query          string   `json:"query"`
	TopK           int      `json:"top_k,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

func (*RetrieverData) NodeType() NodeType { return NodeTypeRetriever }

func (d *RetrieverData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.DatasetIDs = slices.Clone(d.DatasetIDs)
	return &out
}

// VariableAggregationData merges alternative upstream variables (typically
// the outputs of mutually exclusive branches) into one.
type VariableAggregationData struct {
	Meta
	Variables  []string `json:"variables"`
	OutputType string   `json:"output_type,omitempty"`
}

func (*VariableAggregationData) NodeType() NodeType { return NodeTypeVariableAggregation }

func (d *VariableAggregationData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Variables = slices.Clone(d.Variables)
	return &out
}

// ConditionBranchData configures an if/elif/else node. The else branch is
// implicit.
type ConditionBranchData struct {
	Meta
	Branches []Branch `json:"branches"`
}

func (*ConditionBranchData) NodeType() NodeType { return NodeTypeConditionBranch }

func (d *ConditionBranchData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Branches = make([]Branch, len(d.Branches))
	for i, b := range d.Branches {
		b.Conditions = slices.Clone(b.Conditions)
		out.Branches[i] = b
	}
	return &out
}

// RequirementCategoryData configures an LLM-backed classifier.
type RequirementCategoryData struct {
	Meta
	ModelID     string     `json:"model_id"`
	Query       string     `json:"query"`
	Instruction string     `json:"instruction,omitempty"`
	Categories  []Category `json:"categories"`
}

func (*RequirementCategoryData) NodeType() NodeType { return NodeTypeRequirementCategory }

func (d *RequirementCategoryData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Categories = slices.Clone(d.Categories)
	return &out
}

// TaskGenerationData configures a planner that emits a task list.
type TaskGenerationData struct {
	Meta
	ModelID  string `json:"model_id"`
	Prompt   string `json:"prompt"`
	MaxTasks int    `json:"max_tasks,omitempty"`
}

func (*TaskGenerationData) NodeType() NodeType { return NodeTypeTaskGeneration }

func (d *TaskGenerationData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	return &out
}

// TaskExecutionData runs a task list through its embedded executors.
type TaskExecutionData struct {
	Meta
	Tasks        string     `json:"tasks"`
	Mode         string     `json:"mode,omitempty"` // sequential | parallel
	ExecutorList []Executor `json:"executor_list,omitempty"`
}

func (*TaskExecutionData) NodeType() NodeType { return NodeTypeTaskExecution }

func (d *TaskExecutionData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	if d.ExecutorList != nil {
		out.ExecutorList = make([]Executor, len(d.ExecutorList))
		for i, e := range d.ExecutorList {
			out.ExecutorList[i] = e.clone()
		}
	}
	return &out
}

// WithAggregated replaces the executor list when handle is
// HandleExecutorList. Entries are re-indexed in the given order.
func (d *TaskExecutionData) WithAggregated(handle string, items []any) (NodeData, bool) {
	if handle != HandleExecutorList {
		return d, false
	}
	out := d.Clone().(*TaskExecutionData)
	out.ExecutorList = make([]Executor, 0, len(items))
	for _, item := range items {
		exec, ok := item.(Executor)
		if !ok {
			continue
		}
		exec.Index = len(out.ExecutorList)
		out.ExecutorList = append(out.ExecutorList, exec)
	}
	return out, true
}

// TemplateConversionData renders a text template from bound variables.
type TemplateConversionData struct {
	Meta
	Template  string    `json:"template"`
	Variables []Binding `json:"variables,omitempty"`
}

func (*TemplateConversionData) NodeType() NodeType { return NodeTypeTemplateConversion }

func (d *TemplateConversionData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Variables = slices.Clone(d.Variables)
	return &out
}

// ToolData configures a standalone tool invocation.
type ToolData struct {
	Meta
	ToolID string     `json:"tool_id"`
	Params []KeyValue `json:"params,omitempty"`
}

func (*ToolData) NodeType() NodeType { return NodeTypeTool }

func (d *ToolData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Params = slices.Clone(d.Params)
	return &out
}

// SkillData configures a skill invocation.
type SkillData struct {
	Meta
	SkillID string `json:"skill_id"`
	Input   string `json:"input"`
}

func (*SkillData) NodeType() NodeType { return NodeTypeSkill }

func (d *SkillData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	return &out
}

// EndData declares the workflow outputs.
type EndData struct {
	Meta
	Outputs []Binding `json:"outputs,omitempty"`
}

func (*EndData) NodeType() NodeType { return NodeTypeEnd }

func (d *EndData) Clone() NodeData {
	out := *d
	out.Meta = d.Meta.clone()
	out.Outputs = slices.Clone(d.Outputs)
	return &out
}

// UnknownData keeps the raw configuration of a node type this version does
// not know about, so it can be passed through untouched.
type UnknownData struct {
	Kind NodeType
	Raw  map[string]any
}

func (d *UnknownData) NodeType() NodeType { return d.Kind }

// Metadata extracts the common fields from the raw map when present.
func (d *UnknownData) Metadata() Meta {
	var m Meta
	if title, ok := d.Raw["title"].(string); ok {
		m.Title = title
	}
	if desc, ok := d.Raw["description"].(string); ok {
		m.Description = desc
	}
	return m
}

func (d *UnknownData) Clone() NodeData {
	return &UnknownData{Kind: d.Kind, Raw: maps.Clone(d.Raw)}
}

// WithAggregated stores items under handle in the raw configuration. Any
// handle is accepted.
func (d *UnknownData) WithAggregated(handle string, items []any) (NodeData, bool) {
	out := d.Clone().(*UnknownData)
	if out.Raw == nil {
		out.Raw = make(map[string]any)
	}
	out.Raw[handle] = slices.Clone(items)
	return out, true
}

// MarshalJSON writes the raw configuration back out.
func (d *UnknownData) MarshalJSON() ([]byte, error) {
	if d.Raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Raw)
}
