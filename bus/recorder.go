package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petal-labs/flowcanvas/compiler"
)

// Recorder numbers compile events per workflow, persists them and publishes
// them on a bus. Its Handle method is a compiler.EventHandler. Events of
// graphs without an ID are dropped.
type Recorder struct {
	mu     sync.Mutex
	seq    map[string]uint64
	store  EventStore
	saver  *StoreSubscriber
	bus    EventBus
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to store and eb. Either may be nil.
func NewRecorder(store EventStore, eb EventBus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		seq:    make(map[string]uint64),
		store:  store,
		bus:    eb,
		logger: logger,
	}
	if store != nil {
		r.saver = NewStoreSubscriber(store, logger)
	}
	return r
}

// Handle stamps e with the next sequence number of its workflow, then
// stores and publishes it. Sequence numbers continue from what the store
// already holds.
func (r *Recorder) Handle(e compiler.Event) {
	if e.WorkflowID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.seq[e.WorkflowID]
	if !ok && r.store != nil {
		latest, err := r.store.LatestSeq(context.Background(), e.WorkflowID)
		if err != nil {
			r.logger.Warn("reading latest compile event seq", "workflow_id", e.WorkflowID, "error", err)
		}
		last = latest
	}
	last++
	r.seq[e.WorkflowID] = last
	e.Seq = last

	if r.saver != nil {
		r.saver.Handle(e)
	}
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
