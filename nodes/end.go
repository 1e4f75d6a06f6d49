package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type endLowerer struct{}

func (endLowerer) Type() core.NodeType { return core.NodeTypeEnd }

func (endLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.EndData](n)
	return &ir.EndNode{Header: header(n), Outputs: s.Bindings(d.Outputs)}
}

// End nodes expose nothing.
func (endLowerer) Variables(core.Node) []core.Variable {
	return nil
}

func (endLowerer) Context(n ir.Node) NodeContext {
	e, ok := n.(*ir.EndNode)
	if !ok {
		return NodeContext{}
	}
	return newContext(paramTexts(e.Outputs), nil)
}
