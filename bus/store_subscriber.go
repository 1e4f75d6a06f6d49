package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/flowcanvas/compiler"
)

// StoreSubscriber writes events to an EventStore. Its Handle method is a
// compiler.EventHandler.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store.
func (s *StoreSubscriber) Handle(event compiler.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist compile event",
			"workflow_id", event.WorkflowID,
			"compile_id", event.CompileID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}
