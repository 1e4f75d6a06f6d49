package server

import "sync"

// workflowLocks serialises read-modify-write cycles on one workflow record.
// Entries are dropped once no request holds or waits for them. The locks
// are per process; replicas sharing a Postgres store still race.
type workflowLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newWorkflowLocks() *workflowLocks {
	return &workflowLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until the caller owns id and returns the matching unlock.
func (l *workflowLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

// len reports the number of workflows currently locked or awaited.
func (l *workflowLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
