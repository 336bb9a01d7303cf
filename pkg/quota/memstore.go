package quota

import (
	"context"
	"sync"
)

// memoryStore is a process-local Store for single-instance deployments
// and tests. The mutex provides the per-key atomicity the contract
// requires; counters from previous windows are dropped lazily when the
// window rolls over.
type memoryStore struct {
	mu     sync.Mutex
	window string
	counts map[string]uint64
}

// NewMemoryStore creates an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{counts: make(map[string]uint64)}
}

func (s *memoryStore) Increment(_ context.Context, key, window string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window != window {
		s.window = window
		s.counts = make(map[string]uint64)
	}
	s.counts[key]++
	return s.counts[key], nil
}
