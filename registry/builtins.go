package registry

import "github.com/petal-labs/flowcanvas/core"

var (
	inputHandle  = HandleDef{Name: core.HandleInput, Multiple: true}
	outputHandle = HandleDef{Name: core.HandleOutput, Multiple: true}
)

func standard(def NodeTypeDef) NodeTypeDef {
	def.Handles = HandleSchema{
		Inputs:  []HandleDef{inputHandle},
		Outputs: []HandleDef{outputHandle},
	}
	def.Executor = def.Type.IsExecutor()
	return def
}

// registerBuiltins registers the sixteen canvas node types in canonical
// order. Called by New.
func registerBuiltins(r *Registry) {
	r.Register(NodeTypeDef{
		Type:        core.NodeTypeStart,
		Category:    "entry",
		DisplayName: "Start",
		Description: "Workflow entry point declaring the input variables",
		Handles: HandleSchema{
			Outputs: []HandleDef{outputHandle},
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeAgent,
		Category:    "ai",
		DisplayName: "Agent",
		Description: "Run a pre-built agent with a prompt and an optional tool set",
		Handles: HandleSchema{
			Inputs: []HandleDef{
				inputHandle,
				{Name: core.HandleTools, Multiple: true, Structural: true, Description: "tool and skill nodes made available to the agent"},
			},
			Outputs: []HandleDef{outputHandle},
		},
		Executor: true,
	})

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeLLM,
		Category:    "ai",
		DisplayName: "LLM",
		Description: "Send a system and user prompt to a language model",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeHTTP,
		Category:    "tool",
		DisplayName: "HTTP Request",
		Description: "Call an HTTP endpoint with templated headers, params and body",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeHuman,
		Category:    "human",
		DisplayName: "Human Input",
		Description: "Pause for approval or a filled-in form",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeCustomCode,
		Category:    "tool",
		DisplayName: "Code",
		Description: "Run sandboxed code over bound input variables",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeRetriever,
		Category:    "data",
		DisplayName: "Knowledge Retrieval",
		Description: "Query one or more datasets",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeVariableAggregation,
		Category:    "data",
		DisplayName: "Variable Aggregator",
		Description: "Merge alternative branch outputs into one variable",
	}))

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeConditionBranch,
		Category:    "control",
		DisplayName: "If / Else",
		Description: "Route to one branch per matching condition set, else the else branch",
		Handles: HandleSchema{
			Inputs: []HandleDef{{Name: core.HandleInput}},
			Outputs: []HandleDef{
				{Name: core.HandleElse, Multiple: true, Description: "taken when no branch matches"},
			},
		},
		DynamicOutputs: true,
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeRequirementCategory,
		Category:    "control",
		DisplayName: "Question Classifier",
		Description: "Classify the input with a model and route by category",
		Handles: HandleSchema{
			Inputs: []HandleDef{{Name: core.HandleInput}},
		},
		DynamicOutputs: true,
	})

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeTaskGeneration,
		Category:    "ai",
		DisplayName: "Task Planner",
		Description: "Break a goal into a task list",
	}))

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeTaskExecution,
		Category:    "control",
		DisplayName: "Task Executor",
		Description: "Run each planned task through the embedded executors",
		Handles: HandleSchema{
			Inputs: []HandleDef{
				inputHandle,
				{Name: core.HandleExecutorList, Multiple: true, Structural: true, Description: "executor nodes embedded in this node"},
			},
			Outputs: []HandleDef{outputHandle},
		},
	})

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeTemplateConversion,
		Category:    "data",
		DisplayName: "Template",
		Description: "Render a text template from bound variables",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeTool,
		Category:    "tool",
		DisplayName: "Tool",
		Description: "Invoke a catalog tool",
	}))

	r.Register(standard(NodeTypeDef{
		Type:        core.NodeTypeSkill,
		Category:    "tool",
		DisplayName: "Skill",
		Description: "Invoke a catalog skill",
	}))

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeEnd,
		Category:    "exit",
		DisplayName: "End",
		Description: "Workflow exit point declaring the outputs",
		Handles: HandleSchema{
			Inputs: []HandleDef{inputHandle},
		},
	})
}
