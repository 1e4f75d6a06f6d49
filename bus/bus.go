// Package bus distributes compiler events to observers such as the editor's
// live compile stream. Events are keyed by workflow ID so a client can follow
// every compile of the workflow it has open.
package bus

import "github.com/petal-labs/flowcanvas/compiler"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event compiler.Event)

	// Subscribe registers a subscriber for a specific workflow. With kinds
	// only events of those kinds are delivered.
	// Returns a Subscription that must be closed when done.
	Subscribe(workflowID string, kinds ...compiler.EventKind) Subscription

	// SubscribeAll registers a subscriber that receives events from all
	// workflows, optionally restricted to kinds. Returns a Subscription that
	// must be closed when done.
	SubscribeAll(kinds ...compiler.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan compiler.Event

	// Close unsubscribes and releases resources.
	Close() error
}
