package otel_test

import (
	"testing"
	"time"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/core"
	fcotel "github.com/petal-labs/flowcanvas/otel"
)

func TestEnrichHandler(t *testing.T) {
	_, tp := newTestTracer()
	h := fcotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(started("c-1", now))
	h.Handle(compiler.NewEvent(compiler.EventStageStarted, "c-1", now).WithStage(compiler.StageLowerNodes))
	rootSC := h.ActiveCompileSpanContext("c-1")
	stageSC := h.ActiveStageSpanContext("c-1", compiler.StageLowerNodes)

	var received compiler.Event
	enriched := fcotel.EnrichHandler(func(e compiler.Event) { received = e }, h)

	tests := []struct {
		name     string
		event    compiler.Event
		wantSpan string
	}{
		{
			name:     "node event uses lower_nodes stage span",
			event:    compiler.NewEvent(compiler.EventNodeLowered, "c-1", now).WithNode("n", core.NodeTypeLLM),
			wantSpan: stageSC.SpanID().String(),
		},
		{
			name:     "stage event uses its stage span",
			event:    compiler.NewEvent(compiler.EventStageStarted, "c-1", now).WithStage(compiler.StageLowerNodes),
			wantSpan: stageSC.SpanID().String(),
		},
		{
			name:     "stage without span falls back to compile span",
			event:    compiler.NewEvent(compiler.EventStageStarted, "c-1", now).WithStage(compiler.StageLevel),
			wantSpan: rootSC.SpanID().String(),
		},
		{
			name:     "compile event uses compile span",
			event:    compiler.NewEvent(compiler.EventCompileFinished, "c-1", now),
			wantSpan: rootSC.SpanID().String(),
		},
		{
			name:  "unknown compile passes through",
			event: compiler.NewEvent(compiler.EventCompileFinished, "other", now),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received = compiler.Event{}
			enriched(tt.event)
			if received.SpanID != tt.wantSpan {
				t.Errorf("SpanID = %q, want %q", received.SpanID, tt.wantSpan)
			}
			if tt.wantSpan != "" && received.TraceID != rootSC.TraceID().String() {
				t.Errorf("TraceID = %q, want %q", received.TraceID, rootSC.TraceID().String())
			}
			if received.Kind != tt.event.Kind || received.CompileID != tt.event.CompileID {
				t.Errorf("event fields not preserved: %+v", received)
			}
		})
	}
}
