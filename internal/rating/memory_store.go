package rating

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// MemoryStore keeps ratings in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	ratings  map[uuid.UUID]models.PlayerRating
	recorded map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings:  make(map[uuid.UUID]models.PlayerRating),
		recorded: make(map[uuid.UUID]struct{}),
	}
}

func (s *MemoryStore) Apply(_ context.Context, battleID uuid.UUID, p1, p2 models.Participant, _ time.Time, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.recorded[battleID]; done {
		return ErrAlreadyRecorded
	}

	n1, n2 := fn(s.load(p1), s.load(p2))
	s.ratings[p1.ID] = n1
	s.ratings[p2.ID] = n2
	s.recorded[battleID] = struct{}{}
	return nil
}

func (s *MemoryStore) load(p models.Participant) models.PlayerRating {
	if r, ok := s.ratings[p.ID]; ok {
		return r
	}
	return NewPlayerRating(p)
}

func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*models.PlayerRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) Top(_ context.Context, limit int) ([]models.PlayerRating, error) {
	s.mu.Lock()
	out := make([]models.PlayerRating, 0, len(s.ratings))
	for _, r := range s.ratings {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].UserID.String() < out[j].UserID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
