package bus

import (
	"context"
	"sync"

	"github.com/petal-labs/flowcanvas/compiler"
)

// MemEventStore is a thread-safe in-memory event store. Retention drops
// whole compiles, so a workflow may briefly hold fewer events than the
// limit.
type MemEventStore struct {
	mu        sync.RWMutex
	events    map[string][]compiler.Event // workflowID -> events
	retention int
}

// NewMemEventStore creates a new in-memory event store. When retention is
// positive only the newest retention events per workflow are kept.
func NewMemEventStore(retention int) *MemEventStore {
	return &MemEventStore{
		events:    make(map[string][]compiler.Event),
		retention: retention,
	}
}

func (s *MemEventStore) Append(_ context.Context, event compiler.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.events[event.WorkflowID], event)
	if s.retention > 0 && len(events) > s.retention {
		events = append([]compiler.Event(nil), events[trimCompiles(events, s.retention):]...)
	}
	s.events[event.WorkflowID] = events
	return nil
}

// trimCompiles returns the index of the first event to keep so that at most
// limit events remain and no compile loses only part of its events.
func trimCompiles(events []compiler.Event, limit int) int {
	cut := len(events) - limit
	if cut <= 0 {
		return 0
	}
	partial := events[cut-1].CompileID
	for cut < len(events) && events[cut].CompileID == partial {
		cut++
	}
	return cut
}

func (s *MemEventStore) List(_ context.Context, workflowID string, afterSeq uint64, limit int) ([]compiler.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[workflowID]
	var result []compiler.Event

	for _, e := range all {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, workflowID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[workflowID]
	if len(events) == 0 {
		return 0, nil
	}

	var maxSeq uint64
	for _, e := range events {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

func (s *MemEventStore) LatestCompile(_ context.Context, workflowID string) ([]compiler.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[workflowID]
	if len(events) == 0 {
		return nil, nil
	}
	latest := events[0]
	for _, e := range events[1:] {
		if e.Seq > latest.Seq {
			latest = e
		}
	}
	var result []compiler.Event
	for _, e := range events {
		if e.CompileID == latest.CompileID {
			result = append(result, e)
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ EventStore = (*MemEventStore)(nil)
