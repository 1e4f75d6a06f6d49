// Package compiler turns a canvas graph into the IR consumed by the
// execution backend.
//
// A compile is a single pass over an immutable snapshot:
//
//	Level -> Aggregate -> LowerNodes -> LowerEdges
//
// It never fails. Unresolvable references and resources degrade to empty
// values and are reported on the Result; Check turns them into diagnostics.
package compiler

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/flowcanvas/catalog"
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/ir"
	"github.com/petal-labs/flowcanvas/nodes"
	"github.com/petal-labs/flowcanvas/registry"
	"github.com/petal-labs/flowcanvas/resource"
	"github.com/petal-labs/flowcanvas/schemafmt"
	"github.com/petal-labs/flowcanvas/varref"
)

// CompilerName is stamped into the metadata of every compiled workflow.
const CompilerName = "flowcanvas"

// Options configures a Compiler. The zero value is usable.
type Options struct {
	// Logger receives compile warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// Resources resolves model, dataset, tool, skill and agent IDs. When
	// nil every resource reference is reported as missing.
	Resources resource.Catalog

	// Lowerers lowers each node type. Defaults to nodes.Default().
	Lowerers *nodes.Registry

	// AggregationRules replaces DefaultAggregationRules when non-nil.
	AggregationRules []AggregationRule

	// Registry describes node types and their handles for Check.
	// Defaults to registry.Global().
	Registry *registry.Registry

	// EventHandler receives progress events.
	EventHandler EventHandler

	// Now provides the current time for events. If nil, uses time.Now.
	Now func() time.Time
}

// Compiler compiles canvas graphs. It holds no per-compile state and is safe
// for concurrent use.
type Compiler struct {
	logger    *slog.Logger
	resources resource.Catalog
	lowerers  *nodes.Registry
	rules     []AggregationRule
	registry  *registry.Registry
	handler   EventHandler
	now       func() time.Time
	exprs     *exprChecker
}

// New returns a Compiler with defaults applied to opts.
func New(opts Options) *Compiler {
	c := &Compiler{
		logger:    opts.Logger,
		resources: opts.Resources,
		lowerers:  opts.Lowerers,
		rules:     opts.AggregationRules,
		registry:  opts.Registry,
		handler:   opts.EventHandler,
		now:       opts.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.lowerers == nil {
		c.lowerers = nodes.Default()
	}
	if c.rules == nil {
		c.rules = DefaultAggregationRules()
	}
	if c.registry == nil {
		c.registry = registry.Global()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.exprs = newExprChecker()
	return c
}

// Compile compiles g with default options.
func Compile(g core.Graph) *Result {
	return New(Options{}).Compile(g)
}

// Unresolved is a reference token that matched nothing upstream of NodeID.
type Unresolved struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

// MissingResource is a resource ID not present in the resource catalog.
type MissingResource struct {
	NodeID string        `json:"node_id"`
	Kind   resource.Kind `json:"kind"`
	ID     string        `json:"id"`
}

// Result is the output of a compile.
type Result struct {
	Workflow *ir.Workflow `json:"workflow"`

	// Contexts maps each lowered node to the references it consumes.
	Contexts map[string]nodes.NodeContext `json:"contexts"`

	// Unleveled lists nodes whose level came from breaking a cycle.
	Unleveled []string `json:"unleveled,omitempty"`

	Unresolved       []Unresolved      `json:"unresolved,omitempty"`
	MissingResources []MissingResource `json:"missing_resources,omitempty"`

	// Absorbed lists, sorted, the nodes that only exist as entries
	// aggregated into a parent.
	Absorbed []string `json:"absorbed,omitempty"`

	// Rejected lists, in input order, the edges an aggregation rule matched
	// whose target could not hold the entries. They are lowered as plain
	// edges.
	Rejected []RejectedEdge `json:"rejected,omitempty"`
}

// RejectedEdge is an edge into an aggregated handle its target refused.
type RejectedEdge struct {
	EdgeID string `json:"edge_id"`
	Target string `json:"target"`
	Handle string `json:"handle"`
}

// Catalog returns the variable catalog the references of g resolve against
// during Compile: g without the edges aggregation claims, with variables
// declared by the compiler's lowerers. Editors offer variables from it so
// that every offered token resolves.
func (c *Compiler) Catalog(g core.Graph) *catalog.Catalog {
	return c.catalogOf(Aggregate(g.Nodes, g.Edges, c.rules, c.logger))
}

func (c *Compiler) catalogOf(agg AggregateResult) *catalog.Catalog {
	return catalog.New(core.Graph{Nodes: agg.Nodes, Edges: agg.Edges}, c.lowerers)
}

// Compile compiles g. g is never modified; compiling the same graph twice
// yields identical results.
func (c *Compiler) Compile(g core.Graph) *Result {
	run := &compileRun{
		c:         c,
		g:         g,
		// Only events carry the compile ID. It must stay out of the IR,
		// which is a pure function of g.
		id:        uuid.NewString(),
		start:     c.now(),
		seenRefs:  make(map[Unresolved]bool),
		seenMiss:  make(map[MissingResource]bool),
		lowered:   make(map[string]ir.Node),
		result:    &Result{Contexts: make(map[string]nodes.NodeContext)},
		stageTime: make(map[Stage]time.Time),
	}
	run.emit(NewEvent(EventCompileStarted, run.id, run.start).
		WithPayload("node_count", len(g.Nodes)).
		WithPayload("edge_count", len(g.Edges)))

	run.stageStarted(StageLevel)
	leveled := graph.LevelGraph(g.Nodes, g.Edges)
	if leveled.HasCycle() {
		c.logger.Warn("graph contains a cycle; levels assigned by insertion order",
			"workflow_id", g.ID, "unleveled", leveled.Unleveled)
	}
	run.result.Unleveled = leveled.Unleveled
	run.stageFinished(StageLevel)

	run.stageStarted(StageAggregate)
	agg := Aggregate(leveled.Nodes, leveled.Edges, c.rules, c.logger)
	for id := range agg.Absorbed {
		run.result.Absorbed = append(run.result.Absorbed, id)
	}
	slices.Sort(run.result.Absorbed)
	for _, e := range agg.Rejected {
		run.result.Rejected = append(run.result.Rejected, RejectedEdge{EdgeID: e.ID, Target: e.Target, Handle: e.Handle()})
	}
	run.stageFinished(StageAggregate)

	run.stageStarted(StageLowerNodes)
	irNodes := run.lowerNodes(agg)
	run.stageFinished(StageLowerNodes)

	run.stageStarted(StageLowerEdges)
	irEdges := run.lowerEdges(agg.Edges)
	run.stageFinished(StageLowerEdges)

	run.result.Workflow = &ir.Workflow{
		ID:       g.ID,
		Name:     g.Name,
		Version:  schemafmt.CurrentIRSchemaVersion,
		Metadata: metadata(g),
		Nodes:    irNodes,
		Edges:    irEdges,
	}

	end := c.now()
	run.emit(NewEvent(EventCompileFinished, run.id, end).
		WithElapsed(end.Sub(run.start)).
		WithPayload("node_count", len(irNodes)).
		WithPayload("edge_count", len(irEdges)).
		WithPayload("unresolved_count", len(run.result.Unresolved)).
		WithPayload("missing_resource_count", len(run.result.MissingResources)))
	return run.result
}

func metadata(g core.Graph) map[string]string {
	md := map[string]string{
		"compiler":    CompilerName,
		"source_kind": string(schemafmt.KindCanvas),
	}
	if g.SchemaVersion != "" {
		md["source_schema_version"] = g.SchemaVersion
	}
	return md
}

// compileRun holds the state of one Compile call.
type compileRun struct {
	c     *Compiler
	g     core.Graph
	id    string
	start time.Time

	seenRefs  map[Unresolved]bool
	seenMiss  map[MissingResource]bool
	lowered   map[string]ir.Node
	result    *Result
	stageTime map[Stage]time.Time
}

func (r *compileRun) emit(e Event) {
	if r.c.handler == nil {
		return
	}
	r.c.handler(e.WithWorkflow(r.g.ID))
}

func (r *compileRun) stageStarted(s Stage) {
	now := r.c.now()
	r.stageTime[s] = now
	r.emit(NewEvent(EventStageStarted, r.id, now).WithStage(s))
}

func (r *compileRun) stageFinished(s Stage) {
	now := r.c.now()
	r.emit(NewEvent(EventStageFinished, r.id, now).
		WithStage(s).
		WithElapsed(now.Sub(r.stageTime[s])))
}

func (r *compileRun) onUnresolved(nodeID string, ref varref.Reference) {
	u := Unresolved{NodeID: nodeID, Token: ref.Token()}
	if r.seenRefs[u] {
		return
	}
	r.seenRefs[u] = true
	r.result.Unresolved = append(r.result.Unresolved, u)
	r.c.logger.Debug("unresolved variable reference", "node_id", nodeID, "token", u.Token)
}

func (r *compileRun) onMissingResource(nodeID string, kind resource.Kind, id string) {
	m := MissingResource{NodeID: nodeID, Kind: kind, ID: id}
	if r.seenMiss[m] {
		return
	}
	r.seenMiss[m] = true
	r.result.MissingResources = append(r.result.MissingResources, m)
	r.c.logger.Debug("resource not in catalog", "node_id", nodeID, "kind", kind, "id", id)
}

// lowerNodes lowers every node that is not absorbed, in (level, insertion)
// order. References resolve over the graph without the claimed edges, so
// aggregated children are never seen as upstream of their parent.
func (r *compileRun) lowerNodes(agg AggregateResult) []ir.Node {
	reg := r.c.lowerers
	env := &nodes.Env{
		Catalog:           r.c.catalogOf(agg),
		Resources:         r.c.resources,
		Registry:          reg,
		OnUnresolved:      r.onUnresolved,
		OnMissingResource: r.onMissingResource,
	}

	out := make([]ir.Node, 0, len(agg.Nodes))
	for _, n := range graph.Order(agg.Nodes) {
		if agg.Absorbed[n.ID] {
			continue
		}
		if _, dup := r.lowered[n.ID]; dup {
			r.c.logger.Warn("skipping node with duplicate id", "node_id", n.ID)
			continue
		}
		lowered := reg.Lower(n, env.Scope(n.ID))
		r.lowered[n.ID] = lowered
		r.result.Contexts[n.ID] = reg.Context(lowered)
		out = append(out, lowered)
		r.emit(NewEvent(EventNodeLowered, r.id, r.c.now()).
			WithNode(n.ID, n.Type).
			WithPayload("level", n.Level))
	}
	return out
}

// lowerEdges lowers the unclaimed edges. Every node must already be lowered:
// branch condition IDs are read from the lowered source.
func (r *compileRun) lowerEdges(edges []core.Edge) []ir.Edge {
	out := make([]ir.Edge, 0, len(edges))
	for _, e := range edges {
		_, okSrc := r.lowered[e.Source]
		_, okTgt := r.lowered[e.Target]
		if !okSrc || !okTgt {
			r.c.logger.Warn("dropping edge with missing endpoint",
				"edge_id", e.ID, "source", e.Source, "target", e.Target)
			continue
		}
		out = append(out, ir.Edge{
			Level:           e.Level,
			SourceNodeID:    e.Source,
			TargetNodeID:    e.Target,
			SourceNodeType:  e.SourceType,
			TargetNodeType:  e.TargetType,
			IsLogicalBranch: e.IsLogicalBranch,
			ConditionID:     r.conditionID(e),
			OriginalEdgeID:  e.ID,
		})
	}
	return out
}

// conditionID matches a branch edge's source handle against the branch
// targets of its lowered source. When nothing matches, the leveler's
// provisional ID (the source node ID) is kept.
func (r *compileRun) conditionID(e core.Edge) *string {
	if !e.IsLogicalBranch {
		return nil
	}
	fallback := e.Source
	if e.ConditionID != nil {
		fallback = *e.ConditionID
	}
	brancher, ok := r.lowered[e.Source].(ir.Brancher)
	if !ok {
		r.c.logger.Warn("branch edge source has no branch targets",
			"edge_id", e.ID, "source", e.Source)
		return &fallback
	}
	for _, t := range brancher.BranchTargets() {
		if t.Handle == e.SourceHandle {
			id := t.ConditionID
			return &id
		}
	}
	r.c.logger.Warn("branch edge leaves from an unknown handle",
		"edge_id", e.ID, "source", e.Source, "source_handle", e.SourceHandle)
	return &fallback
}
