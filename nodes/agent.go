package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

type agentLowerer struct{}

func (agentLowerer) Type() core.NodeType { return core.NodeTypeAgent }

func (agentLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.AgentData](n)
	out := &ir.AgentNode{
		Header: header(n),
		Agent:  s.Resource(resource.KindAgent, d.AgentID),
		Prompt: s.Template(d.Prompt),
		Tools:  make([]ir.ToolRef, 0, len(d.Tools)),
	}
	for _, t := range d.Tools {
		kind := resource.KindTool
		if t.Type == core.NodeTypeSkill {
			kind = resource.KindSkill
		}
		out.Tools = append(out.Tools, ir.ToolRef{
			CurrentID: t.CurrentID,
			Type:      t.Type,
			Resource:  s.Resource(kind, t.ResourceID),
		})
	}
	return out
}

func (agentLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "text", Type: core.VarString}}
}

func (agentLowerer) Context(n ir.Node) NodeContext {
	a, ok := n.(*ir.AgentNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{a.Prompt.Text}, nil)
}
