package nodes

import (
	"slices"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

const (
	humanApproval = "approval"
	humanInput    = "input"
)

type humanLowerer struct{}

func (humanLowerer) Type() core.NodeType { return core.NodeTypeHuman }

func (humanLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.HumanData](n)
	mode := d.Mode
	if mode != humanInput {
		mode = humanApproval
	}
	out := &ir.HumanNode{
		Header:         header(n),
		Mode:           mode,
		Prompt:         s.Template(d.Prompt),
		TimeoutSeconds: d.TimeoutSeconds,
	}
	if mode == humanInput {
		out.Fields = slices.Clone(d.Fields)
	}
	return out
}

// Variables exposes the decision for approvals and the form fields for
// input requests.
func (humanLowerer) Variables(n core.Node) []core.Variable {
	d := configOf[core.HumanData](n)
	if d.Mode == humanInput {
		return variables(d.Fields)
	}
	return []core.Variable{
		{Name: "approved", Type: core.VarBoolean},
		{Name: "comment", Type: core.VarString},
	}
}

func (humanLowerer) Context(n ir.Node) NodeContext {
	h, ok := n.(*ir.HumanNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{h.Prompt.Text}, nil)
}
