package nodes

import (
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
	"github.com/petal-labs/flowcanvas/varref"
)

type taskGenerationLowerer struct{}

func (taskGenerationLowerer) Type() core.NodeType { return core.NodeTypeTaskGeneration }

func (taskGenerationLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.TaskGenerationData](n)
	return &ir.TaskGenerationNode{
		Header:   header(n),
		Model:    s.Resource(resource.KindModel, d.ModelID),
		Prompt:   s.Template(d.Prompt),
		MaxTasks: d.MaxTasks,
	}
}

func (taskGenerationLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "tasks", Type: core.VarArrayObject}}
}

func (taskGenerationLowerer) Context(n ir.Node) NodeContext {
	t, ok := n.(*ir.TaskGenerationNode)
	if !ok {
		return NodeContext{}
	}
	return newContext([]string{t.Prompt.Text}, nil)
}

// taskExecutionLowerer lowers its executor list recursively, so it needs the
// registry it belongs to for child contexts.
type taskExecutionLowerer struct {
	registry *Registry
}

func (*taskExecutionLowerer) Type() core.NodeType { return core.NodeTypeTaskExecution }

func (*taskExecutionLowerer) Lower(n core.Node, s *Scope) ir.Node {
	d := configOf[core.TaskExecutionData](n)
	mode := d.Mode
	if mode != "parallel" {
		mode = "sequential"
	}
	out := &ir.TaskExecutionNode{
		Header:    header(n),
		Tasks:     s.Ref(d.Tasks),
		Mode:      mode,
		Executors: make([]ir.Executor, 0, len(d.ExecutorList)),
	}
	for i, e := range d.ExecutorList {
		child := e.Node()
		child.Level = n.Level
		out.Executors = append(out.Executors, ir.Executor{
			CurrentID: e.CurrentID,
			Index:     i,
			Node:      s.LowerChild(child),
		})
	}
	return out
}

func (*taskExecutionLowerer) Variables(core.Node) []core.Variable {
	return []core.Variable{{Name: "results", Type: core.VarArrayObject}}
}

// Context reports the task list as input and every executor's references as
// context.
func (l *taskExecutionLowerer) Context(n ir.Node) NodeContext {
	t, ok := n.(*ir.TaskExecutionNode)
	if !ok {
		return NodeContext{}
	}
	ctx := newContext([]string{t.Tasks.Token}, nil)
	var nested []varref.Reference
	for _, e := range t.Executors {
		if e.Node == nil || l.registry == nil {
			continue
		}
		nested = append(nested, l.registry.Context(e.Node).All()...)
	}
	ctx.Context = varref.Dedupe(nested)
	return ctx
}
