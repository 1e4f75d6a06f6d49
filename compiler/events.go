package compiler

import (
	"context"
	"log/slog"
	"time"

	"github.com/petal-labs/flowcanvas/core"
)

// EventKind identifies the type of event emitted by the compiler.
type EventKind string

const (
	// EventCompileStarted is emitted when a compile begins.
	EventCompileStarted EventKind = "compile_started"

	// EventStageStarted is emitted when a pipeline stage begins.
	EventStageStarted EventKind = "stage_started"

	// EventStageFinished is emitted when a pipeline stage completes.
	EventStageFinished EventKind = "stage_finished"

	// EventNodeLowered is emitted after each node is lowered.
	EventNodeLowered EventKind = "node_lowered"

	// EventCompileFinished is emitted when a compile completes.
	EventCompileFinished EventKind = "compile_finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Stage names one step of the compile pipeline.
type Stage string

const (
	StageLevel      Stage = "level"
	StageAggregate  Stage = "aggregate"
	StageLowerNodes Stage = "lower_nodes"
	StageLowerEdges Stage = "lower_edges"
)

// Event is a structured record of compiler progress. Events are never part
// of the compiled output.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// CompileID is unique per Compile call.
	CompileID string

	// WorkflowID is the ID of the graph being compiled, if it has one.
	WorkflowID string

	// Stage is set on stage events.
	Stage Stage

	// NodeID and NodeType are set on node events.
	NodeID   string
	NodeType core.NodeType

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the compile or stage started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// TraceID and SpanID are set when a tracing handler enriched the event.
	TraceID string
	SpanID  string

	// Seq orders the events of one workflow. The compiler leaves it zero;
	// bus.Recorder stamps it.
	Seq uint64
}

// NewEvent creates a new event stamped with now.
func NewEvent(kind EventKind, compileID string, now time.Time) Event {
	return Event{
		Kind:      kind,
		CompileID: compileID,
		Time:      now,
		Payload:   make(map[string]any),
	}
}

// WithWorkflow sets the workflow ID on the event.
func (e Event) WithWorkflow(id string) Event {
	e.WorkflowID = id
	return e
}

// WithStage sets the stage on the event.
func (e Event) WithStage(s Stage) Event {
	e.Stage = s
	return e
}

// WithNode sets the node information on the event.
func (e Event) WithNode(id string, t core.NodeType) Event {
	e.NodeID = id
	e.NodeType = t
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventHandler is a function type for handling events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// LogEventHandler writes every event to logger at debug level.
func LogEventHandler(logger *slog.Logger) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		attrs := []any{"compile_id", e.CompileID}
		if e.WorkflowID != "" {
			attrs = append(attrs, "workflow_id", e.WorkflowID)
		}
		if e.Stage != "" {
			attrs = append(attrs, "stage", string(e.Stage))
		}
		if e.NodeID != "" {
			attrs = append(attrs, "node_id", e.NodeID, "node_type", string(e.NodeType))
		}
		if e.Elapsed > 0 {
			attrs = append(attrs, "elapsed", e.Elapsed)
		}
		if e.TraceID != "" {
			attrs = append(attrs, "trace_id", e.TraceID, "span_id", e.SpanID)
		}
		for k, v := range e.Payload {
			attrs = append(attrs, k, v)
		}
		logger.Debug("compile event: "+e.Kind.String(), attrs...)
	}
}
