// Package otel provides OpenTelemetry integration for flowcanvas compiler
// events.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/flowcanvas/compiler"
)

// TracingHandler translates compiler events into OpenTelemetry spans: one
// root span per compile with a child span per pipeline stage.
type TracingHandler struct {
	tracer trace.Tracer

	mu           sync.RWMutex
	compileSpans map[string]trace.Span      // compileID -> span
	compileCtxs  map[string]context.Context // compileID -> context (for child spans)
	stageSpans   map[string]trace.Span      // compileID:stage -> span
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from compiler events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:       tracer,
		compileSpans: make(map[string]trace.Span),
		compileCtxs:  make(map[string]context.Context),
		stageSpans:   make(map[string]trace.Span),
	}
}

// Handle processes a compiler event and creates or ends spans accordingly.
// It has compiler.EventHandler semantics.
func (h *TracingHandler) Handle(e compiler.Event) {
	switch e.Kind {
	case compiler.EventCompileStarted:
		h.handleCompileStarted(e)
	case compiler.EventStageStarted:
		h.handleStageStarted(e)
	case compiler.EventStageFinished:
		h.handleStageFinished(e)
	case compiler.EventNodeLowered:
		h.handleNodeLowered(e)
	case compiler.EventCompileFinished:
		h.handleCompileFinished(e)
	}
}

func stageKey(compileID string, s compiler.Stage) string {
	return compileID + ":" + string(s)
}

// handleCompileStarted creates a root span for the compile.
func (h *TracingHandler) handleCompileStarted(e compiler.Event) {
	spanName := "compile:" + e.CompileID
	if e.WorkflowID != "" {
		spanName = "compile:" + e.WorkflowID
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("flowcanvas.compile_id", e.CompileID),
			attribute.Int("flowcanvas.node_count", intPayload(e, "node_count")),
			attribute.Int("flowcanvas.edge_count", intPayload(e, "edge_count")),
		),
		trace.WithTimestamp(e.Time),
	)
	if e.WorkflowID != "" {
		span.SetAttributes(attribute.String("flowcanvas.workflow_id", e.WorkflowID))
	}

	h.mu.Lock()
	h.compileSpans[e.CompileID] = span
	h.compileCtxs[e.CompileID] = ctx
	h.mu.Unlock()
}

// handleStageStarted creates a child span under the compile span.
func (h *TracingHandler) handleStageStarted(e compiler.Event) {
	h.mu.RLock()
	parentCtx, ok := h.compileCtxs[e.CompileID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "stage:"+string(e.Stage),
		trace.WithAttributes(
			attribute.String("flowcanvas.compile_id", e.CompileID),
			attribute.String("flowcanvas.stage", string(e.Stage)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.stageSpans[stageKey(e.CompileID, e.Stage)] = span
	h.mu.Unlock()
}

// handleStageFinished ends the stage span.
func (h *TracingHandler) handleStageFinished(e compiler.Event) {
	key := stageKey(e.CompileID, e.Stage)

	h.mu.Lock()
	span, ok := h.stageSpans[key]
	if ok {
		delete(h.stageSpans, key)
	}
	h.mu.Unlock()

	if ok {
		span.SetAttributes(attribute.String("flowcanvas.duration", e.Elapsed.String()))
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleNodeLowered adds a span event to the lower_nodes stage span.
func (h *TracingHandler) handleNodeLowered(e compiler.Event) {
	h.mu.RLock()
	span, ok := h.stageSpans[stageKey(e.CompileID, compiler.StageLowerNodes)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.String("flowcanvas.node_id", e.NodeID),
		attribute.String("flowcanvas.node_type", string(e.NodeType)),
		attribute.Int("flowcanvas.level", intPayload(e, "level")),
	))
}

// handleCompileFinished ends the root span. Unresolved references mark it as
// an error.
func (h *TracingHandler) handleCompileFinished(e compiler.Event) {
	h.mu.Lock()
	span, ok := h.compileSpans[e.CompileID]
	if ok {
		delete(h.compileSpans, e.CompileID)
		delete(h.compileCtxs, e.CompileID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	unresolved := intPayload(e, "unresolved_count")
	missing := intPayload(e, "missing_resource_count")
	span.SetAttributes(
		attribute.String("flowcanvas.duration", e.Elapsed.String()),
		attribute.Int("flowcanvas.unresolved_count", unresolved),
		attribute.Int("flowcanvas.missing_resource_count", missing),
	)
	if unresolved > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d unresolved references", unresolved))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveStageSpanContext returns the SpanContext of the open span for stage
// in compileID, or an empty SpanContext.
func (h *TracingHandler) ActiveStageSpanContext(compileID string, stage compiler.Stage) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stageSpans[stageKey(compileID, stage)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveCompileSpanContext returns the SpanContext of the root span for
// compileID, or an empty SpanContext.
func (h *TracingHandler) ActiveCompileSpanContext(compileID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.compileSpans[compileID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func intPayload(e compiler.Event, key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
