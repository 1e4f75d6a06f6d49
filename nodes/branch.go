package nodes

import (
	"fmt"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
)

// OperatorExpression marks a condition whose value is a boolean expression
// rather than a comparison against a variable.
const OperatorExpression = "expression"

type conditionBranchLowerer struct{}

func (conditionBranchLowerer) Type() core.NodeType { return core.NodeTypeConditionBranch }

// Lower emits one case per configured branch plus the implicit else. A
// branch without an ID gets "<node>-<index>"; the else branch is always
// "<node>-else" on the else handle.
func (conditionBranchLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.ConditionBranchData](n)
	out := &ir.ConditionBranchNode{
		Header:   header(n),
		Branches: make([]ir.BranchCase, 0, len(d.Branches)),
		Else: ir.BranchCase{
			ID:         ElseConditionID(n.ID),
			Handle:     core.HandleElse,
			Logic:      "and",
			Conditions: []ir.Comparison{},
		},
	}
	for i, b := range d.Branches {
		id := b.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", n.ID, i)
		}
		logic := b.Logic
		if logic != "or" {
			logic = "and"
		}
		bc := ir.BranchCase{
			ID:         id,
			Handle:     id,
			Logic:      logic,
			Conditions: make([]ir.Comparison, 0, len(b.Conditions)),
		}
		for _, c := range b.Conditions {
			cmp := ir.Comparison{Operator: c.Operator, Value: s.Template(c.Value)}
			if c.Operator != OperatorExpression {
				cmp.Variable = s.Ref(c.Variable)
			}
			bc.Conditions = append(bc.Conditions, cmp)
		}
		out.Branches = append(out.Branches, bc)
	}
	return out
}

// ElseConditionID returns the condition ID of a branch node's else case.
func ElseConditionID(nodeID string) string {
	return nodeID + "-else"
}

// Branch nodes route; they expose nothing.
func (conditionBranchLowerer) Variables(core.Node) []core.Variable {
	return nil
}

func (conditionBranchLowerer) Context(n ir.Node) NodeContext {
	c, ok := n.(*ir.ConditionBranchNode)
	if !ok {
		return NodeContext{}
	}
	var texts []string
	for _, b := range c.Branches {
		for _, cmp := range b.Conditions {
			texts = append(texts, cmp.Variable.Token, cmp.Value.Text)
		}
	}
	return newContext(texts, nil)
}
