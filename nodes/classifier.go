package nodes

import (
	"fmt"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

type requirementCategoryLowerer struct{}

func (requirementCategoryLowerer) Type() core.NodeType { return core.NodeTypeRequirementCategory }

func (requirementCategoryLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.RequirementCategoryData](n)
	out := &ir.RequirementCategoryNode{
		Header:      header(n),
		Model:       s.Resource(resource.KindModel, d.ModelID),
		Query:       s.Template(d.Query),
		Instruction: s.Template(d.Instruction),
		Categories:  make([]ir.CategoryCase, 0, len(d.Categories)),
	}
	for i, c := range d.Categories {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", n.ID, i)
		}
		out.Categories = append(out.Categories, ir.CategoryCase{
			ID:          id,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	return out
}

func (requirementCategoryLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "class_name", Type: core.VarString}}
}

func (requirementCategoryLowerer) Context(n ir.Node) NodeContext {
	r, ok := n.(*ir.RequirementCategoryNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{r.Query.Text}, []string{r.Instruction.Text})
}
