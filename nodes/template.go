package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

type templateConversionLowerer struct{}

func (templateConversionLowerer) Type() core.NodeType { return core.NodeTypeTemplateConversion }

func (templateConversionLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.TemplateConversionData](n)
	return &ir.TemplateConversionNode{
		Header:    header(n),
		Template:  s.Template(d.Template),
		Variables: s.Bindings(d.Variables),
	}
}

func (templateConversionLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "output", Type: core.VarString}}
}

func (templateConversionLowerer) Context(n ir.Node) NodeContext {
	t, ok := n.(*ir.TemplateConversionNode)
	if !ok {
		return NodeContext{}
	}
	return newContext(paramTexts(t.Variables), []string{t.Template.Text})
}
