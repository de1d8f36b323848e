package users

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// MemoryStore keeps users in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Email != "" {
		if _, taken := s.byEmail[u.Email]; taken {
			return ErrEmailTaken
		}
		s.byEmail[u.Email] = u.ID
	}
	s.byID[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
