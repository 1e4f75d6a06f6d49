package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/flowcanvas/compiler"
)

// MetricsHandler translates compiler events into OpenTelemetry metrics.
type MetricsHandler struct {
	compiles         metric.Int64Counter
	nodesLowered     metric.Int64Counter
	unresolved       metric.Int64Counter
	missingResources metric.Int64Counter
	stageDuration    metric.Float64Histogram
	compileDuration  metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	compiles, err := meter.Int64Counter("flowcanvas.compiles",
		metric.WithDescription("Number of completed compiles"),
	)
	if err != nil {
		return nil, err
	}

	lowered, err := meter.Int64Counter("flowcanvas.nodes.lowered",
		metric.WithDescription("Number of nodes lowered to IR"),
	)
	if err != nil {
		return nil, err
	}

	unresolved, err := meter.Int64Counter("flowcanvas.references.unresolved",
		metric.WithDescription("Number of variable references left unresolved"),
	)
	if err != nil {
		return nil, err
	}

	missing, err := meter.Int64Counter("flowcanvas.resources.missing",
		metric.WithDescription("Number of resource IDs not found in the catalog"),
	)
	if err != nil {
		return nil, err
	}

	stageDur, err := meter.Float64Histogram("flowcanvas.stage.duration",
		metric.WithDescription("Duration of a compile stage in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	compileDur, err := meter.Float64Histogram("flowcanvas.compile.duration",
		metric.WithDescription("Duration of a compile in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		compiles:         compiles,
		nodesLowered:     lowered,
		unresolved:       unresolved,
		missingResources: missing,
		stageDuration:    stageDur,
		compileDuration:  compileDur,
	}, nil
}

// Handle processes a compiler event and records the appropriate metrics.
// It has compiler.EventHandler semantics.
func (h *MetricsHandler) Handle(e compiler.Event) {
	switch e.Kind {
	case compiler.EventNodeLowered:
		h.handleNodeLowered(e)
	case compiler.EventStageFinished:
		h.handleStageFinished(e)
	case compiler.EventCompileFinished:
		h.handleCompileFinished(e)
	}
}

func (h *MetricsHandler) handleNodeLowered(e compiler.Event) {
	h.nodesLowered.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
	))
}

func (h *MetricsHandler) handleStageFinished(e compiler.Event) {
	h.stageDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(e.Stage)),
	))
}

func (h *MetricsHandler) handleCompileFinished(e compiler.Event) {
	ctx := context.Background()
	h.compiles.Add(ctx, 1)
	h.compileDuration.Record(ctx, e.Elapsed.Seconds())
	if n := intPayload(e, "unresolved_count"); n > 0 {
		h.unresolved.Add(ctx, int64(n))
	}
	if n := intPayload(e, "missing_resource_count"); n > 0 {
		h.missingResources.Add(ctx, int64(n))
	}
}
