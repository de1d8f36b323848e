package battle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// Store persists battles. Update is the only mutation path after Create and must
// apply the mutation atomically, only when the condition holds against the stored
// record. Implementations return ErrNotFound for unknown ids and ErrConflict when
// the condition does not hold.
type Store interface {
	Create(ctx context.Context, b *models.Battle) error
	Get(ctx context.Context, id uuid.UUID) (*models.Battle, error)
	Update(ctx context.Context, id uuid.UUID, cond Condition, mut Mutation) (*models.Battle, error)

	// ListWaiting returns waiting battles oldest first. limit <= 0 means no limit.
	ListWaiting(ctx context.Context, limit int) ([]*models.Battle, error)

	// ListStalled returns active battles that have a prompt submitted before
	// olderThan with no score yet, or that have both scores but were never completed.
	ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]*models.Battle, error)
}

// Condition is the expected prior state for a conditional update. Status is required.
type Condition struct {
	Status models.BattleStatus

	// SeatOpen requires seat 2 to be empty.
	SeatOpen bool

	// Seat-level guards apply to Seat when it is not SeatNone.
	Seat        models.Seat
	Occupant    uuid.UUID
	PromptUnset bool
	PromptSet   bool
	ScoreUnset  bool

	BothScored bool
}

// Matches evaluates the condition against a battle in memory.
func (c Condition) Matches(b *models.Battle) bool {
	if b.Status != c.Status {
		return false
	}
	if c.SeatOpen && b.Player2 != nil {
		return false
	}
	if c.Seat != models.SeatNone {
		slot := b.Slot(c.Seat)
		if slot == nil {
			return false
		}
		if c.Occupant != uuid.Nil && slot.ID != c.Occupant {
			return false
		}
		if c.PromptUnset && slot.Prompt != nil {
			return false
		}
		if c.PromptSet && slot.Prompt == nil {
			return false
		}
		if c.ScoreUnset && slot.Score != nil {
			return false
		}
	}
	if c.BothScored && !b.BothScored() {
		return false
	}
	return true
}

// Mutation describes the fields an update writes. Zero fields are left untouched.
type Mutation struct {
	Status models.BattleStatus

	// Opponent fills seat 2.
	Opponent *models.Participant

	// Seat selects the slot that Prompt or Score are written to.
	Seat     models.Seat
	Prompt   *string
	Score    *int
	Feedback string

	Winner        models.Winner
	MatchAnalysis string

	// At stamps submittedAt, scoredAt or completedAt.
	At time.Time
}

// Apply writes the mutation into b and bumps its version. Callers must have
// checked the matching Condition first.
func (m Mutation) Apply(b *models.Battle) {
	if m.Opponent != nil {
		b.Player2 = &models.PlayerSlot{Participant: *m.Opponent}
	}
	if slot := b.Slot(m.Seat); slot != nil {
		if m.Prompt != nil {
			p := *m.Prompt
			at := m.At
			slot.Prompt = &p
			slot.SubmittedAt = &at
		}
		if m.Score != nil {
			s := *m.Score
			at := m.At
			slot.Score = &s
			slot.Feedback = m.Feedback
			slot.ScoredAt = &at
		}
	}
	if m.Status != "" {
		b.Status = m.Status
		if m.Status == models.StatusCompleted {
			at := m.At
			b.Winner = m.Winner
			b.MatchAnalysis = m.MatchAnalysis
			b.CompletedAt = &at
		}
	}
	b.Version++
}
