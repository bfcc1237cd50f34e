package validation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*Result
	order   []string // insertion order, oldest first
}

// NewMemoryStore creates an in-memory validation result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*Result),
	}
}

func (s *MemoryStore) Save(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.ID]; !exists {
		s.order = append(s.order, result.ID)
	}
	s.results[result.ID] = result.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return result.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}

	// Most recent first
	out := make([]*Result, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.results[s.order[i]].Clone())
	}
	return out, nil
}
