package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type customCodeLowerer struct{}

func (customCodeLowerer) Type() core.NodeType { return core.NodeTypeCustomCode }

func (customCodeLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.CustomCodeData](n)
	language := d.Language
	if language == "" {
		language = "python3"
	}
	outputs := variables(d.Outputs)
	if outputs == nil {
		outputs = []core.Variable{}
	}
	return &ir.CustomCodeNode{
		Header:   header(n),
		Language: language,
		Code:     d.Code,
		Inputs:   s.Bindings(d.Inputs),
		Outputs:  outputs,
	}
}

func (customCodeLowerer) Variables(n core.Node) []core.Variable {
	return variables(configOf[core.CustomCodeData](n).Outputs)
}

func (customCodeLowerer) Context(n ir.Node) NodeContext {
	c, ok := n.(*ir.CustomCodeNode)
	if !ok {
		return NodeContext{}
	}
	return newContext(paramTexts(c.Inputs), nil)
}
