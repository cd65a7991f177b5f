package engine

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process PlanStore.
type MemoryStore struct {
	mu      sync.RWMutex
	patches map[string]*PendingPatch
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patches: make(map[string]*PendingPatch)}
}

// Get implements PlanStore.
func (s *MemoryStore) Get(_ context.Context, targetID string) (*PendingPatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patches[targetID]
	if !ok {
		return nil, ErrPatchNotFound
	}
	return p, nil
}

// Put implements PlanStore.
func (s *MemoryStore) Put(_ context.Context, patch *PendingPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced := s.patches[patch.TargetID]
	s.patches[patch.TargetID] = patch
	return replaced, nil
}

// Consume implements PlanStore.
func (s *MemoryStore) Consume(_ context.Context, targetID, planID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patches[targetID]
	if !ok || p.PlanID != planID {
		return false, nil
	}
	delete(s.patches, targetID)
	return true, nil
}

// DeleteExpired implements PlanStore.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) ([]*PendingPatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*PendingPatch
	for id, p := range s.patches {
		if p.CreatedAt.Before(cutoff) {
			removed = append(removed, p)
			delete(s.patches, id)
		}
	}
	return removed, nil
}

// Len returns the number of pending patches.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patches)
}
