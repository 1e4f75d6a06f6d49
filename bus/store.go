package bus

import (
	"context"

	"github.com/petal-labs/flowcanvas/compiler"
)

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event compiler.Event) error

	// List returns events for a workflow, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, workflowID string, afterSeq uint64, limit int) ([]compiler.Event, error)

	// LatestSeq returns the highest Seq for a workflow (0 if no events).
	LatestSeq(ctx context.Context, workflowID string) (uint64, error)

	// LatestCompile returns, in Seq order, the stored events of the compile
	// that emitted the workflow's newest event. It returns nil when the
	// workflow has no events.
	LatestCompile(ctx context.Context, workflowID string) ([]compiler.Event, error)
}
