package compiler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/resource"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCompiler() *Compiler {
	return New(Options{
		Logger: quietLogger(),
		Resources: resource.NewStatic(
			resource.Resource{ID: "gpt-4o", Kind: resource.KindModel, Name: "GPT-4o", Provider: "openai"},
		),
	})
}

func node(id string, t core.NodeType, data core.NodeData) core.Node {
	return core.Node{ID: id, Type: t, Data: data}
}

func edge(id, source, target string) core.Edge {
	return core.Edge{ID: id, Source: source, Target: target}
}

func branchEdge(id, source, handle, target string) core.Edge {
	return core.Edge{ID: id, Source: source, SourceHandle: handle, Target: target}
}

func startData(vars ...string) *core.StartData {
	d := &core.StartData{Meta: core.Meta{OutputInfo: &core.OutputInfo{}}}
	for _, v := range vars {
		d.Variables = append(d.Variables, core.VariableDef{Name: v})
	}
	return d
}

func llmData(prompt string) *core.LLMData {
	return &core.LLMData{
		Meta:       core.Meta{OutputInfo: &core.OutputInfo{Key: "text", Type: core.VarString, Base: true}},
		ModelID:    "gpt-4o",
		UserPrompt: prompt,
	}
}

func linearGraph() core.Graph {
	return core.Graph{
		ID: "wf-1",
		Nodes: []core.Node{
			node("s", core.NodeTypeStart, startData("question")),
			node("l", core.NodeTypeLLM, llmData("Answer <<s.outputs.question>>")),
			node("e", core.NodeTypeEnd, &core.EndData{Outputs: []core.Binding{{Name: "answer", Value: "<<l.outputs.text>>"}}}),
		},
		Edges: []core.Edge{
			edge("edge1", "s", "l"),
			edge("edge2", "l", "e"),
		},
	}
}

func TestCompile_Linear(t *testing.T) {
	res := testCompiler().Compile(linearGraph())
	wf := res.Workflow

	if len(wf.Nodes) != 3 || len(wf.Edges) != 2 {
		t.Fatalf("got %d nodes, %d edges; want 3, 2", len(wf.Nodes), len(wf.Edges))
	}
	wantLevels := map[string]int{"s": 0, "l": 1, "e": 2}
	for _, n := range wf.Nodes {
		var level int
		switch v := n.(type) {
		case *ir.StartNode:
			level = v.Level
		case *ir.LLMNode:
			level = v.Level
		case *ir.EndNode:
			level = v.Level
		default:
			t.Fatalf("unexpected node %T", n)
		}
		if level != wantLevels[n.NodeID()] {
			t.Errorf("level(%s) = %d, want %d", n.NodeID(), level, wantLevels[n.NodeID()])
		}
	}
	wantEdgeLevels := map[string]int{"edge1": 1, "edge2": 2}
	for _, e := range wf.Edges {
		if e.Level != wantEdgeLevels[e.OriginalEdgeID] {
			t.Errorf("edge %s level = %d, want %d", e.OriginalEdgeID, e.Level, wantEdgeLevels[e.OriginalEdgeID])
		}
		if e.IsLogicalBranch || e.ConditionID != nil {
			t.Errorf("edge %s is a logical branch", e.OriginalEdgeID)
		}
	}
	if wf.Edges[0].SourceNodeType != core.NodeTypeStart || wf.Edges[0].TargetNodeType != core.NodeTypeLLM {
		t.Errorf("edge1 types = %s -> %s", wf.Edges[0].SourceNodeType, wf.Edges[0].TargetNodeType)
	}

	llm := wf.Nodes[1].(*ir.LLMNode)
	if len(llm.UserPrompt.Variables) != 1 || llm.UserPrompt.Variables[0].NodeID != "s" {
		t.Errorf("UserPrompt.Variables = %+v", llm.UserPrompt.Variables)
	}
	if llm.Model.Name != "GPT-4o" {
		t.Errorf("Model = %+v", llm.Model)
	}
	if len(res.Unresolved) != 0 || len(res.MissingResources) != 0 {
		t.Errorf("Unresolved = %v, MissingResources = %v", res.Unresolved, res.MissingResources)
	}
	if got := res.Contexts["e"].Inputs; len(got) != 1 || got[0].Identifier != "l" {
		t.Errorf("Contexts[e].Inputs = %+v", got)
	}
	if wf.Version == "" || wf.Metadata["compiler"] != CompilerName {
		t.Errorf("Version = %q, Metadata = %v", wf.Version, wf.Metadata)
	}
}

func branchGraph() core.Graph {
	return core.Graph{
		Nodes: []core.Node{
			node("s", core.NodeTypeStart, startData("score")),
			node("cb", core.NodeTypeConditionBranch, &core.ConditionBranchData{Branches: []core.Branch{
				{ID: "high", Conditions: []core.Condition{{Variable: "<<s.outputs.score>>", Operator: ">", Value: "80"}}},
				{ID: "mid", Conditions: []core.Condition{{Variable: "<<s.outputs.score>>", Operator: ">", Value: "50"}}},
			}}),
			node("a", core.NodeTypeEnd, &core.EndData{}),
			node("b", core.NodeTypeEnd, &core.EndData{}),
			node("c", core.NodeTypeEnd, &core.EndData{}),
		},
		Edges: []core.Edge{
			edge("e0", "s", "cb"),
			branchEdge("e1", "cb", "high", "a"),
			branchEdge("e2", "cb", "mid", "b"),
			branchEdge("e3", "cb", core.HandleElse, "c"),
		},
	}
}

func TestCompile_BranchEdges(t *testing.T) {
	res := testCompiler().Compile(branchGraph())

	want := map[string]string{"e1": "high", "e2": "mid", "e3": "cb-else"}
	seen := make(map[string]bool)
	branches := 0
	for _, e := range res.Workflow.Edges {
		if e.SourceNodeID != "cb" {
			if e.IsLogicalBranch {
				t.Errorf("edge %s from %s marked as branch", e.OriginalEdgeID, e.SourceNodeID)
			}
			continue
		}
		branches++
		if !e.IsLogicalBranch {
			t.Errorf("edge %s is_logical_branch = false", e.OriginalEdgeID)
		}
		if e.ConditionID == nil {
			t.Fatalf("edge %s condition_id = nil", e.OriginalEdgeID)
		}
		if *e.ConditionID != want[e.OriginalEdgeID] {
			t.Errorf("edge %s condition_id = %q, want %q", e.OriginalEdgeID, *e.ConditionID, want[e.OriginalEdgeID])
		}
		if seen[*e.ConditionID] {
			t.Errorf("condition_id %q used twice", *e.ConditionID)
		}
		seen[*e.ConditionID] = true
	}
	if branches != 3 {
		t.Errorf("got %d branch edges, want 3", branches)
	}
}

func TestCompile_BranchEdgeUnknownHandleKeepsDefault(t *testing.T) {
	g := branchGraph()
	g.Edges[1].SourceHandle = "nope"
	res := testCompiler().Compile(g)
	for _, e := range res.Workflow.Edges {
		if e.OriginalEdgeID == "e1" {
			if e.ConditionID == nil || *e.ConditionID != "cb" {
				t.Errorf("condition_id = %v, want source node id", e.ConditionID)
			}
			return
		}
	}
	t.Fatal("edge e1 missing from IR")
}

func aggregationGraph() core.Graph {
	return core.Graph{
		Nodes: []core.Node{
			node("gen", core.NodeTypeTaskGeneration, &core.TaskGenerationData{
				Meta:    core.Meta{OutputInfo: &core.OutputInfo{Key: "tasks", Type: core.VarArrayObject, Base: true}},
				ModelID: "gpt-4o",
			}),
			node("c1", core.NodeTypeLLM, llmData("Do <<gen.outputs.tasks>>")),
			node("c2", core.NodeTypeHTTP, &core.HTTPData{URL: "https://example.com"}),
			node("te", core.NodeTypeTaskExecution, &core.TaskExecutionData{Tasks: "<<gen.outputs.tasks>>"}),
		},
		Edges: []core.Edge{
			edge("e0", "gen", "te"),
			{ID: "e1", Source: "c1", Target: "te", TargetHandle: core.HandleExecutorList},
			{ID: "e2", Source: "c2", Target: "te", TargetHandle: core.HandleExecutorList},
		},
	}
}

func TestCompile_AggregatesExecutors(t *testing.T) {
	res := testCompiler().Compile(aggregationGraph())
	wf := res.Workflow

	if len(wf.Edges) != 1 || wf.Edges[0].OriginalEdgeID != "e0" {
		t.Fatalf("Edges = %+v, want only e0", wf.Edges)
	}
	if !reflect.DeepEqual(res.Absorbed, []string{"c1", "c2"}) {
		t.Errorf("Absorbed = %v", res.Absorbed)
	}
	if _, ok := wf.Node("c1"); ok {
		t.Error("absorbed node c1 lowered independently")
	}

	n, ok := wf.Node("te")
	if !ok {
		t.Fatal("te missing")
	}
	te := n.(*ir.TaskExecutionNode)
	if len(te.Executors) != 2 {
		t.Fatalf("len(Executors) = %d, want 2", len(te.Executors))
	}
	if te.Executors[0].CurrentID != "c1" || te.Executors[1].CurrentID != "c2" {
		t.Errorf("executor order = %s, %s", te.Executors[0].CurrentID, te.Executors[1].CurrentID)
	}
	child, ok := te.Executors[0].Node.(*ir.LLMNode)
	if !ok {
		t.Fatalf("executor 0 = %T", te.Executors[0].Node)
	}
	if len(child.UserPrompt.Variables) != 1 || child.UserPrompt.Variables[0].NodeID != "gen" {
		t.Errorf("child prompt variables = %+v", child.UserPrompt.Variables)
	}
	if !te.Tasks.Resolved() {
		t.Errorf("Tasks = %+v, want resolved", te.Tasks)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("Unresolved = %v", res.Unresolved)
	}
}

func TestCompile_AggregatedNodeWithOtherEdgesStaysIndependent(t *testing.T) {
	g := aggregationGraph()
	g.Nodes = append(g.Nodes, node("end", core.NodeTypeEnd, &core.EndData{}))
	g.Edges = append(g.Edges, edge("e3", "c2", "end"))

	res := testCompiler().Compile(g)
	if !reflect.DeepEqual(res.Absorbed, []string{"c1"}) {
		t.Errorf("Absorbed = %v, want [c1]", res.Absorbed)
	}
	if _, ok := res.Workflow.Node("c2"); !ok {
		t.Error("c2 has a regular edge and must be lowered")
	}
}

func TestCompile_NilTaskExecutionDataKeepsExecutors(t *testing.T) {
	g := aggregationGraph()
	g.Nodes[3].Data = nil

	res := testCompiler().Compile(g)

	n, ok := res.Workflow.Node("te")
	if !ok {
		t.Fatal("te missing")
	}
	te := n.(*ir.TaskExecutionNode)
	if len(te.Executors) != 2 {
		t.Fatalf("len(Executors) = %d, want 2", len(te.Executors))
	}
	if !reflect.DeepEqual(res.Absorbed, []string{"c1", "c2"}) {
		t.Errorf("Absorbed = %v", res.Absorbed)
	}
	if len(res.Rejected) != 0 {
		t.Errorf("Rejected = %+v", res.Rejected)
	}
}

func TestCompile_RejectedAggregationLowersSource(t *testing.T) {
	c := New(Options{
		Logger:           quietLogger(),
		AggregationRules: []AggregationRule{{TargetType: core.NodeTypeLLM, Handle: "extra"}},
	})
	g := core.Graph{
		Nodes: []core.Node{
			node("src", core.NodeTypeLLM, llmData("hi")),
			node("dst", core.NodeTypeLLM, llmData("there")),
		},
		Edges: []core.Edge{{ID: "e", Source: "src", Target: "dst", TargetHandle: "extra"}},
	}

	res := c.Compile(g)

	if len(res.Workflow.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(res.Workflow.Nodes))
	}
	if _, ok := res.Workflow.Node("src"); !ok {
		t.Error("source of a rejected edge was dropped")
	}
	if len(res.Workflow.Edges) != 1 || res.Workflow.Edges[0].OriginalEdgeID != "e" {
		t.Errorf("Edges = %+v, want e kept", res.Workflow.Edges)
	}
	want := []RejectedEdge{{EdgeID: "e", Target: "dst", Handle: "extra"}}
	if !reflect.DeepEqual(res.Rejected, want) {
		t.Errorf("Rejected = %+v, want %+v", res.Rejected, want)
	}
	if !codes(c.Check(g, res))["GR-013"] {
		t.Error("Check did not report the rejected aggregation")
	}
}

func TestCatalog_MatchesCompileResolution(t *testing.T) {
	g := core.Graph{
		Nodes: []core.Node{
			node("s", core.NodeTypeStart, startData("question")),
			node("te", core.NodeTypeTaskExecution, &core.TaskExecutionData{}),
			node("child", core.NodeTypeLLM, llmData("Summarize")),
			node("e", core.NodeTypeEnd, &core.EndData{}),
		},
		Edges: []core.Edge{
			edge("e1", "s", "te"),
			edge("e2", "te", "e"),
			{ID: "e3", Source: "child", Target: "te", TargetHandle: core.HandleExecutorList},
		},
	}
	c := testCompiler()

	for _, d := range c.Catalog(g).OutputVariables("e") {
		if d.ID == "child" {
			t.Fatalf("catalog offers aggregated child variable %s", d.Value)
		}
	}

	g.Nodes[3].Data = &core.EndData{Outputs: []core.Binding{{Name: "x", Value: "<<child.outputs.text>>"}}}
	res := c.Compile(g)
	want := Unresolved{NodeID: "e", Token: "<<child.outputs.text>>"}
	if !slices.Contains(res.Unresolved, want) {
		t.Errorf("Unresolved = %+v, want %+v", res.Unresolved, want)
	}
}

func TestCompile_Idempotent(t *testing.T) {
	for name, g := range map[string]core.Graph{
		"linear":      linearGraph(),
		"branch":      branchGraph(),
		"aggregation": aggregationGraph(),
	} {
		t.Run(name, func(t *testing.T) {
			before, err := json.Marshal(g)
			if err != nil {
				t.Fatal(err)
			}
			c := testCompiler()
			first, err := json.Marshal(c.Compile(g))
			if err != nil {
				t.Fatalf("marshal first: %v", err)
			}
			second, err := json.Marshal(c.Compile(g))
			if err != nil {
				t.Fatalf("marshal second: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Errorf("compile is not deterministic:\n%s\n%s", first, second)
			}
			after, _ := json.Marshal(g)
			if !bytes.Equal(before, after) {
				t.Error("compile modified its input graph")
			}
		})
	}
}

func TestCompile_DegradesOnBadInput(t *testing.T) {
	g := linearGraph()
	g.Nodes[1].Data.(*core.LLMData).ModelID = "unknown-model"
	g.Nodes[2].Data.(*core.EndData).Outputs[0].Value = "<<gone.outputs.text>>"
	g.Nodes = append(g.Nodes, node("x", "loop", &core.UnknownData{Kind: "loop"}))
	g.Edges = append(g.Edges, edge("dangling", "e", "missing"), edge("e4", "l", "x"))

	res := testCompiler().Compile(g)

	if len(res.Unresolved) != 1 || res.Unresolved[0] != (Unresolved{NodeID: "e", Token: "<<gone.outputs.text>>"}) {
		t.Errorf("Unresolved = %+v", res.Unresolved)
	}
	if len(res.MissingResources) != 1 || res.MissingResources[0].ID != "unknown-model" {
		t.Errorf("MissingResources = %+v", res.MissingResources)
	}
	for _, e := range res.Workflow.Edges {
		if e.OriginalEdgeID == "dangling" {
			t.Error("dangling edge emitted")
		}
	}
	n, ok := res.Workflow.Node("x")
	if !ok {
		t.Fatal("unknown node type dropped")
	}
	if _, ok := n.(*ir.Passthrough); !ok {
		t.Errorf("x = %T, want *ir.Passthrough", n)
	}
}

func TestCompile_CycleReportsUnleveled(t *testing.T) {
	g := core.Graph{
		Nodes: []core.Node{
			node("a", core.NodeTypeLLM, llmData("")),
			node("b", core.NodeTypeLLM, llmData("")),
		},
		Edges: []core.Edge{edge("ab", "a", "b"), edge("ba", "b", "a")},
	}
	res := testCompiler().Compile(g)
	if len(res.Unleveled) != 2 {
		t.Errorf("Unleveled = %v", res.Unleveled)
	}
	if len(res.Workflow.Nodes) != 2 || len(res.Workflow.Edges) != 2 {
		t.Errorf("got %d nodes, %d edges", len(res.Workflow.Nodes), len(res.Workflow.Edges))
	}
}

func TestCompile_Events(t *testing.T) {
	var events []Event
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(Options{
		Logger:       quietLogger(),
		EventHandler: func(e Event) { events = append(events, e) },
		Now:          func() time.Time { return now },
	})
	c.Compile(linearGraph())

	if len(events) == 0 {
		t.Fatal("no events")
	}
	if events[0].Kind != EventCompileStarted {
		t.Errorf("first event = %s", events[0].Kind)
	}
	if last := events[len(events)-1]; last.Kind != EventCompileFinished || last.Payload["node_count"] != 3 {
		t.Errorf("last event = %+v", last)
	}
	lowered := 0
	stages := 0
	for _, e := range events {
		if e.CompileID != events[0].CompileID || e.CompileID == "" {
			t.Errorf("event %s has compile id %q", e.Kind, e.CompileID)
		}
		if e.WorkflowID != "wf-1" {
			t.Errorf("event %s has workflow id %q", e.Kind, e.WorkflowID)
		}
		switch e.Kind {
		case EventNodeLowered:
			lowered++
		case EventStageFinished:
			stages++
		}
	}
	if lowered != 3 || stages != 4 {
		t.Errorf("lowered = %d, stages = %d; want 3, 4", lowered, stages)
	}
}

func TestMultiEventHandler(t *testing.T) {
	var a, b int
	h := MultiEventHandler(func(Event) { a++ }, nil, func(Event) { b++ })
	h(NewEvent(EventCompileStarted, "id", time.Now()))
	if a != 1 || b != 1 {
		t.Errorf("a = %d, b = %d", a, b)
	}
}

func TestLogEventHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := LogEventHandler(logger)
	h(NewEvent(EventNodeLowered, "c-1", time.Now()).
		WithWorkflow("wf").
		WithNode("llm-1", core.NodeTypeLLM))

	out := buf.String()
	for _, want := range []string{"compile event: node_lowered", "compile_id=c-1", "workflow_id=wf", "node_id=llm-1"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}

	buf.Reset()
	LogEventHandler(quietLogger())(NewEvent(EventCompileStarted, "c-2", time.Now()))
	if buf.Len() != 0 {
		t.Errorf("unexpected output for discarded logger: %q", buf.String())
	}
}
