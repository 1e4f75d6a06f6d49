package bus

import (
	"slices"
	"sync"

	"github.com/petal-labs/flowcanvas/compiler"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus implementation.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // workflowID -> subscribers
	globalSubs []*memSub            // subscribers for all workflows
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its workflow and to the
// global subscribers. Events published after Close are dropped.
func (b *MemBus) Publish(event compiler.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[event.WorkflowID] {
		sub.send(event)
	}

	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for one workflow. A subscriber that
// names kinds only sees those; its buffer is not spent on the rest, so a
// client following compile_started and compile_finished keeps up with
// graphs of any size.
func (b *MemBus) Subscribe(workflowID string, kinds ...compiler.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, kinds)
	sub.detach = func() { b.remove(workflowID, sub) }
	b.subs[workflowID] = append(b.subs[workflowID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives every event of the
// given kinds, or every event when kinds is empty.
func (b *MemBus) SubscribeAll(kinds ...compiler.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b.bufSize, kinds)
	sub.detach = func() { b.removeGlobal(sub) }
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

func (b *MemBus) remove(workflowID string, sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(b.subs[workflowID], func(s *memSub) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.subs, workflowID)
		return
	}
	b.subs[workflowID] = subs
}

func (b *MemBus) removeGlobal(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.globalSubs = slices.DeleteFunc(b.globalSubs, func(s *memSub) bool { return s == sub })
}

// Len returns the number of open subscriptions.
func (b *MemBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.globalSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}

	for _, sub := range b.globalSubs {
		sub.close()
	}

	return nil
}

// memSub is an in-memory subscription. A nil kinds set accepts every kind.
type memSub struct {
	ch     chan compiler.Event
	kinds  map[compiler.EventKind]bool
	mu     sync.Mutex
	closed bool
	detach func()
}

func newMemSub(bufSize int, kinds []compiler.EventKind) *memSub {
	s := &memSub{
		ch: make(chan compiler.Event, bufSize),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[compiler.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	return s
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan compiler.Event {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.close()
	if s.detach != nil {
		s.detach()
	}
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event to the subscription's channel. Events of other
// kinds are skipped; a full channel drops the event.
func (s *memSub) send(event compiler.Event) {
	if s.kinds != nil && !s.kinds[event.Kind] {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- event:
	default:
		// Drop if channel full.
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
