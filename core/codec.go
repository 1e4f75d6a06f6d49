package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NewData returns an empty configuration for t. Unknown types get an
// UnknownData carrying the type name.
func NewData(t NodeType) NodeData {
	switch t {
	case NodeTypeStart:
		return &StartData{}
	case NodeTypeAgent:
		return &AgentData{}
	case NodeTypeLLM:
		return &LLMData{}
	case NodeTypeHTTP:
		return &HTTPData{}
	case NodeTypeHuman:
		return &HumanData{}
	case NodeTypeCustomCode:
		return &CustomCodeData{}
	case NodeTypeRetriever:
		return &RetrieverData{}
	case NodeTypeVariableAggregation:
		return &VariableAggregationData{}
	case NodeTypeConditionBranch:
		return &ConditionBranchData{}
	case NodeTypeRequirementCategory:
		return &RequirementCategoryData{}
	case NodeTypeTaskGeneration:
		return &TaskGenerationData{}
	case NodeTypeTaskExecution:
		return &TaskExecutionData{}
	case NodeTypeTemplateConversion:
		return &TemplateConversionData{}
	case NodeTypeTool:
		return &ToolData{}
	case NodeTypeSkill:
		return &SkillData{}
	case NodeTypeEnd:
		return &EndData{}
	default:
		return &UnknownData{Kind: t}
	}
}

// DecodeData decodes raw JSON into the configuration struct for t. A missing
// or null payload yields an empty configuration.
func DecodeData(t NodeType, raw json.RawMessage) (NodeData, error) {
	data := NewData(t)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return data, nil
	}
	if unknown, ok := data.(*UnknownData); ok {
		if err := json.Unmarshal(trimmed, &unknown.Raw); err != nil {
			return nil, fmt.Errorf("decoding %s data: %w", t, err)
		}
		return unknown, nil
	}
	if err := json.Unmarshal(trimmed, data); err != nil {
		return nil, fmt.Errorf("decoding %s data: %w", t, err)
	}
	return data, nil
}
