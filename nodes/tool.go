package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

type toolLowerer struct{}

func (toolLowerer) Type() core.NodeType { return core.NodeTypeTool }

func (toolLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.ToolData](n)
	return &ir.ToolNode{
		Header: header(n),
		Tool:   s.Resource(resource.KindTool, d.ToolID),
		Params: s.Params(d.Params),
	}
}

func (toolLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "result", Type: core.VarObject}}
}

func (toolLowerer) Context(n ir.Node) NodeContext {
	t, ok := n.(*ir.ToolNode)
	if !ok {
		return NodeContext{}
	}
	return newContext(paramTexts(t.Params), nil)
}

type skillLowerer struct{}

func (skillLowerer) Type() core.NodeType { return core.NodeTypeSkill }

func (skillLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.SkillData](n)
	return &ir.SkillNode{
		Header: header(n),
		Skill:  s.Resource(resource.KindSkill, d.SkillID),
		Input:  s.Template(d.Input),
	}
}

func (skillLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "result", Type: core.VarObject}}
}

func (skillLowerer) Context(n ir.Node) NodeContext {
	sk, ok := n.(*ir.SkillNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{sk.Input.Text}, nil)
}
