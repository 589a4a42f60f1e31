package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Identity
	byEmail map[string]uuid.UUID
	byRef   map[string]uuid.UUID
}

// NewMemoryStore returns a Store kept in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		byID:    make(map[uuid.UUID]Identity),
		byEmail: make(map[string]uuid.UUID),
		byRef:   make(map[string]uuid.UUID),
	}
}

func (s *memoryStore) GetOrCreate(_ context.Context, candidate Identity) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[candidate.Email]; ok {
		return s.byID[id], nil
	}
	s.byID[candidate.ID] = candidate
	s.byEmail[candidate.Email] = candidate.ID
	if candidate.ExternalCustomerRef != "" {
		s.byRef[candidate.ExternalCustomerRef] = candidate.ID
	}
	return candidate, nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

func (s *memoryStore) GetByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return s.byID[id], nil
}

func (s *memoryStore) GetByCustomerRef(_ context.Context, ref string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return s.byID[id], nil
}

func (s *memoryStore) SetCustomerRef(_ context.Context, id uuid.UUID, ref string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	if ident.ExternalCustomerRef == ref {
		return ident, nil
	}
	if ident.ExternalCustomerRef != "" {
		return Identity{}, ErrCustomerRefConflict
	}
	if owner, taken := s.byRef[ref]; taken && owner != id {
		return Identity{}, ErrCustomerRefConflict
	}
	ident.ExternalCustomerRef = ref
	s.byID[id] = ident
	s.byRef[ref] = id
	return ident, nil
}
