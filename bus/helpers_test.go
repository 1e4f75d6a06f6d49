package bus

import (
	"time"

	"github.com/petal-labs/flowcanvas/compiler"
)

var testTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// makeEvent returns an event of workflowID with the given sequence number.
func makeEvent(workflowID string, seq uint64, kind compiler.EventKind) compiler.Event {
	e := compiler.NewEvent(kind, "compile-1", testTime).WithWorkflow(workflowID)
	e.Seq = seq
	return e
}
