package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

const defaultTopK = 3

type retrieverLowerer struct{}

func (retrieverLowerer) Type() core.NodeType { return core.NodeTypeRetriever }

func (retrieverLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.RetrieverData](n)
	topK := d.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	out := &ir.RetrieverNode{
		Header:         header(n),
		Datasets:       make([]ir.ResourceRef, 0, len(d.DatasetIDs)),
		Query:          s.Template(d.Query),
		TopK:           topK,
		ScoreThreshold: d.ScoreThreshold,
	}
	for _, id := range d.DatasetIDs {
		out.Datasets = append(out.Datasets, s.Resource(resource.KindDataset, id))
	}
	return out
}

func (retrieverLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "result", Type: core.VarArrayObject}}
}

func (retrieverLowerer) Context(n ir.Node) NodeContext {
	r, ok := n.(*ir.RetrieverNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{r.Query.Text}, nil)
}
