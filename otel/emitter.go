package otel

import (
	"github.com/petal-labs/flowcanvas/compiler"
)

// EnrichHandler wraps a compiler.EventHandler with OpenTelemetry trace
// context. Events are stamped with the active span found in tracing, so
// downstream handlers (such as a log handler) can be correlated with traces.
//
// Stage events look up their stage span first; node_lowered events use the
// lower_nodes stage span. Everything else falls back to the compile span.
// When no span is active, the event passes through unchanged.
//
// tracing must see each event before the wrapped handler does; combine them
// with compiler.MultiEventHandler(tracing.Handle, EnrichHandler(next, tracing)).
func EnrichHandler(next compiler.EventHandler, tracing *TracingHandler) compiler.EventHandler {
	return func(e compiler.Event) {
		stage := e.Stage
		if e.Kind == compiler.EventNodeLowered {
			stage = compiler.StageLowerNodes
		}
		if stage != "" {
			sc := tracing.ActiveStageSpanContext(e.CompileID, stage)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.CompileID != "" {
			sc := tracing.ActiveCompileSpanContext(e.CompileID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		next(e)
	}
}
