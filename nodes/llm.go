package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

const (
	responseText = "text"
	responseJSON = "json"
)

type llmLowerer struct{}

func (llmLowerer) Type() core.NodeType { return core.NodeTypeLLM }

func (llmLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.LLMData](n)
	out := &ir.LLMNode{
		Header:         header(n),
		Model:          s.Resource(resource.KindModel, d.ModelID),
		SystemPrompt:   s.Template(d.SystemPrompt),
		UserPrompt:     s.Template(d.UserPrompt),
		MaxTokens:      d.MaxTokens,
		ResponseFormat: responseText,
	}
	if d.Temperature != nil {
		t := *d.Temperature
		out.Temperature = &t
	}
	if d.ResponseFormat == responseJSON {
		out.ResponseFormat = responseJSON
		out.OutputFields = variables(d.OutputFields)
	}
	return out
}

// Variables exposes the structured fields for JSON responses and a single
// text variable otherwise.
func (llmLowerer) Variables(n core.Node) []core.Variable {
	d := configOf[core.LLMData](n)
	if d.ResponseFormat == responseJSON {
		if vars := variables(d.OutputFields); len(vars) > 0 {
			return vars
		}
	}
	return []core.Variable{{Name: "text", Type: core.VarString}}
}

func (llmLowerer) Context(n ir.Node) NodeContext {
	l, ok := n.(*ir.LLMNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{l.UserPrompt.Text}, []string{l.SystemPrompt.Text})
}
