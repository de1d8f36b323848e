package battle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// MemoryStore is a process-local Store used in development and tests. The mutex
// plays the role of the database's row lock.
type MemoryStore struct {
	mu      sync.Mutex
	battles map[uuid.UUID]*models.Battle
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{battles: make(map[uuid.UUID]*models.Battle)}
}

func (s *MemoryStore) Create(_ context.Context, b *models.Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.battles[b.ID]; exists {
		return fmt.Errorf("%w: battle %s already exists", ErrConflict, b.ID)
	}
	s.battles[b.ID] = b.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, cond Condition, mut Mutation) (*models.Battle, error) {
	if cond.Status == "" {
		return nil, fmt.Errorf("%w: update without status condition", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !cond.Matches(b) {
		return nil, fmt.Errorf("%w: battle %s changed state", ErrConflict, id)
	}
	mut.Apply(b)
	return b.Clone(), nil
}

func (s *MemoryStore) ListWaiting(_ context.Context, limit int) ([]*models.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Battle
	for _, b := range s.battles {
		if b.Status == models.StatusWaiting {
			out = append(out, b.Clone())
		}
	}
	sortByCreated(out)
	return head(out, limit), nil
}

func (s *MemoryStore) ListStalled(_ context.Context, olderThan time.Time, limit int) ([]*models.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Battle
	for _, b := range s.battles {
		if b.Status != models.StatusActive {
			continue
		}
		if unfinalizedBefore(b, olderThan) || pendingBefore(b, olderThan) {
			out = append(out, b.Clone())
		}
	}
	sortByCreated(out)
	return head(out, limit), nil
}

// pendingBefore reports whether a seat submitted before t and is still unscored.
func pendingBefore(b *models.Battle, t time.Time) bool {
	for _, seat := range []models.Seat{models.Seat1, models.Seat2} {
		slot := b.Slot(seat)
		if slot != nil && slot.Prompt != nil && slot.Score == nil && slot.SubmittedAt != nil && slot.SubmittedAt.Before(t) {
			return true
		}
	}
	return false
}

// unfinalizedBefore reports whether both seats were scored before t without completion.
func unfinalizedBefore(b *models.Battle, t time.Time) bool {
	if !b.BothScored() {
		return false
	}
	for _, slot := range []*models.PlayerSlot{&b.Player1, b.Player2} {
		if slot.ScoredAt == nil || !slot.ScoredAt.Before(t) {
			return false
		}
	}
	return true
}

func sortByCreated(bs []*models.Battle) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].ID.String() < bs[j].ID.String()
		}
		return bs[i].CreatedAt.Before(bs[j].CreatedAt)
	})
}

func head(bs []*models.Battle, limit int) []*models.Battle {
	if limit > 0 && len(bs) > limit {
		return bs[:limit]
	}
	return bs
}
