package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps workflow records in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	recs  map[string]WorkflowRecord
	now   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]WorkflowRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) List(_ context.Context) ([]WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkflowRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyRecord(s.recs[id]))
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (WorkflowRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return WorkflowRecord{}, false, nil
	}
	return copyRecord(rec), true, nil
}

func (s *MemoryStore) Create(_ context.Context, rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return ErrWorkflowExists
	}
	stamp(&rec, s.now())
	s.recs[rec.ID] = copyRecord(rec)
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; !ok {
		return ErrWorkflowNotFound
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.recs[rec.ID] = copyRecord(rec)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.recs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// copyRecord detaches rec from caller-owned graph and IR buffers.
func copyRecord(rec WorkflowRecord) WorkflowRecord {
	rec.Source = rec.Source.Clone()
	rec.Compiled = cloneRaw(rec.Compiled)
	return rec
}

var _ Store = (*MemoryStore)(nil)
