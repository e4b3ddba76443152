package store

import (
	"context"
	"sync"

	"mascotas.dev/petwatch/internal/track"
)

// MemoryStore is the reference VisitStore used in tests and throwaway
// deployments. Visits are held in append order per entity.
type MemoryStore struct {
	mu       sync.RWMutex
	byEntity map[string][]track.Visit
	all      []track.Visit
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEntity: make(map[string][]track.Visit),
	}
}

// Append stores one visit.
func (s *MemoryStore) Append(_ context.Context, visit track.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEntity[visit.EntityID] = append(s.byEntity[visit.EntityID], visit)
	s.all = append(s.all, visit)
	return nil
}

// RecentFor returns up to limit visits for the entity, most recent first.
func (s *MemoryStore) RecentFor(_ context.Context, entityID string, limit int) ([]track.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visits := s.byEntity[entityID]
	if limit <= 0 || limit > len(visits) {
		limit = len(visits)
	}

	// Visits are appended in RecordedAt order, so reversing the tail gives
	// most-recent-first.
	out := make([]track.Visit, 0, limit)
	for i := len(visits) - 1; i >= len(visits)-limit; i-- {
		out = append(out, visits[i])
	}
	return out, nil
}

// Latest returns the most recently appended visit across all entities.
func (s *MemoryStore) Latest(_ context.Context) (*track.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.all) == 0 {
		return nil, nil
	}
	v := s.all[len(s.all)-1]
	return &v, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ VisitStore = (*MemoryStore)(nil)
