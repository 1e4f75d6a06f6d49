package nodes

import (
	"slices"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type startLowerer struct{}

func (startLowerer) Type() core.NodeType { return core.NodeTypeStart }

func (startLowerer) Lower(n core.Node, _ *Scope) ir.Node {
	d := configOf[core.StartData](n)
	inputs := slices.Clone(d.Variables)
	if inputs == nil {
		inputs = []core.VariableDef{}
	}
	return &ir.StartNode{Header: header(n), Inputs: inputs}
}

func (startLowerer) Variables(n core.Node) []core.Variable {
	return variables(configOf[core.StartData](n).Variables)
}

func (startLowerer) Context(ir.Node) NodeContext {
	return NodeContext{}
}
