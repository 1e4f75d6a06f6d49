package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type variableAggregationLowerer struct{}

func (variableAggregationLowerer) Type() core.NodeType { return core.NodeTypeVariableAggregation }

func (variableAggregationLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.VariableAggregationData](n)
	out := &ir.VariableAggregationNode{
		Header:     header(n),
		Variables:  make([]ir.VarRef, 0, len(d.Variables)),
		OutputType: aggregationType(d),
	}
	for _, token := range d.Variables {
		out.Variables = append(out.Variables, s.Ref(token))
	}
	return out
}

func (variableAggregationLowerer) Variables(n core.Node) []core.Variable {
	return []core.Variable{{Name: "output", Type: aggregationType(configOf[core.VariableAggregationData](n))}}
}

func (variableAggregationLowerer) Context(n ir.Node) NodeContext {
	v, ok := n.(*ir.VariableAggregationNode)
	if !ok {
		return NodeContext{}
	}
	tokens := make([]string, 0, len(v.Variables))
	for _, ref := range v.Variables {
		tokens = append(tokens, ref.Token)
	}
	return newContext(tokens, nil)
}

func aggregationType(d *core.VariableAggregationData) string {
	if d.OutputType == "" {
		return core.VarAny
	}
	return d.OutputType
}
