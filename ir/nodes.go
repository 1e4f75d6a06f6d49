package ir

import "github.com/petal-labs/flowcanvas/core"

// StartNode declares the workflow inputs.
type StartNode struct {
	Header
	Inputs []core.VariableDef `json:"inputs"`
}

// ToolRef is a tool or skill made available to an agent.
type ToolRef struct {
	CurrentID string        `json:"current_id"`
	Type      core.NodeType `json:"type"`
	Resource  ResourceRef   `json:"resource"`
}

// AgentNode calls a pre-built agent.
type AgentNode struct {
	Header
	Agent  ResourceRef `json:"agent"`
	Prompt Template    `json:"prompt"`
	Tools  []ToolRef   `json:"tools"`
}

// LLMNode is a single model call.
type LLMNode struct {
	Header
	Model          ResourceRef     `json:"model"`
	SystemPrompt   Template        `json:"system_prompt"`
	UserPrompt     Template        `json:"user_prompt"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat string          `json:"response_format"`
	OutputFields   []core.Variable `json:"output_fields,omitempty"`
}

// HTTPBody is the templated request body.
type HTTPBody struct {
	Type    string   `json:"type"`
	Content Template `json:"content"`
}

// HTTPNode is an outbound request.
type HTTPNode struct {
	Header
	Method         string   `json:"method"`
	URL            Template `json:"url"`
	Headers        []Param  `json:"headers"`
	Params         []Param  `json:"params"`
	Body           HTTPBody `json:"body"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// HumanNode waits for a person.
type HumanNode struct {
	Header
	Mode           string             `json:"mode"`
	Prompt         Template           `json:"prompt"`
	Fields         []core.VariableDef `json:"fields,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
}

// CustomCodeNode runs user code.
type CustomCodeNode struct {
	Header
	Language string          `json:"language"`
	Code     string          `json:"code"`
	Inputs   []Param         `json:"inputs"`
	Outputs  []core.Variable `json:"outputs"`
}

// RetrieverNode queries datasets.
type RetrieverNode struct {
	Header
	Datasets       []ResourceRef `json:"datasets"`
	Query          Template      `json:"query"`
	TopK           int           `json:"top_k"`
	ScoreThreshold float64       `json:"score_threshold,omitempty"`
}

// VariableAggregationNode merges alternative variables.
type VariableAggregationNode struct {
	Header
	Variables  []VarRef `json:"variables"`
	OutputType string   `json:"output_type"`
}

// Comparison is one compiled condition. For the "expression" operator,
// Value holds the expression and Variable is empty.
type Comparison struct {
	Variable VarRef   `json:"variable"`
	Operator string   `json:"operator"`
	Value    Template `json:"value"`
}

// BranchCase is one compiled branch.
type BranchCase struct {
	ID         string       `json:"id"`
	Handle     string       `json:"handle"`
	Logic      string       `json:"logic"`
	Conditions []Comparison `json:"conditions"`
}

// ConditionBranchNode evaluates its branches in order; Else is taken when
// none match.
type ConditionBranchNode struct {
	Header
	Branches []BranchCase `json:"branches"`
	Else     BranchCase   `json:"else"`
}

// BranchTargets lists every branch followed by the else branch.
func (n *ConditionBranchNode) BranchTargets() []BranchTarget {
	out := make([]BranchTarget, 0, len(n.Branches)+1)
	for _, b := range n.Branches {
		out = append(out, BranchTarget{Handle: b.Handle, ConditionID: b.ID})
	}
	return append(out, BranchTarget{Handle: n.Else.Handle, ConditionID: n.Else.ID})
}

// CategoryCase is one compiled classifier category.
type CategoryCase struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RequirementCategoryNode classifies its query and routes by category.
type RequirementCategoryNode struct {
	Header
	Model       ResourceRef    `json:"model"`
	Query       Template       `json:"query"`
	Instruction Template       `json:"instruction"`
	Categories  []CategoryCase `json:"categories"`
}

// BranchTargets lists one target per category; the handle is the category
// ID.
func (n *RequirementCategoryNode) BranchTargets() []BranchTarget {
	out := make([]BranchTarget, 0, len(n.Categories))
	for _, c := range n.Categories {
		out = append(out, BranchTarget{Handle: c.ID, ConditionID: c.ID})
	}
	return out
}

// TaskGenerationNode plans a task list.
type TaskGenerationNode struct {
	Header
	Model    ResourceRef `json:"model"`
	Prompt   Template    `json:"prompt"`
	MaxTasks int         `json:"max_tasks,omitempty"`
}

// Executor is a compiled child of a task execution node.
type Executor struct {
	CurrentID string `json:"current_id"`
	Index     int    `json:"index"`
	Node      Node   `json:"node"`
}

// TaskExecutionNode runs a task list through its executors.
type TaskExecutionNode struct {
	Header
	Tasks     VarRef     `json:"tasks"`
	Mode      string     `json:"mode"`
	Executors []Executor `json:"executors"`
}

// TemplateConversionNode renders text.
type TemplateConversionNode struct {
	Header
	Template  Template `json:"template"`
	Variables []Param  `json:"variables"`
}

// ToolNode invokes a catalog tool.
type ToolNode struct {
	Header
	Tool   ResourceRef `json:"tool"`
	Params []Param     `json:"params"`
}

// SkillNode invokes a catalog skill.
type SkillNode struct {
	Header
	Skill ResourceRef `json:"skill"`
	Input Template    `json:"input"`
}

// EndNode declares the workflow outputs.
type EndNode struct {
	Header
	Outputs []Param `json:"outputs"`
}

// Passthrough carries a node no lowerer handles, with its configuration
// untouched.
type Passthrough struct {
	Header
	Data core.NodeData `json:"data"`
}
