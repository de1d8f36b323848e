// Package rating keeps a Glicko-2 rating per participant, updated once for
// every completed battle, and serves the leaderboard.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/models"
)

// ErrAlreadyRecorded is returned when a battle's result has been applied before.
var ErrAlreadyRecorded = errors.New("battle result already recorded")

const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// UpdateFunc computes the post-battle ratings of seat 1 and seat 2.
type UpdateFunc func(p1, p2 models.PlayerRating) (models.PlayerRating, models.PlayerRating)

// Store persists ratings. Apply loads (or defaults) both players, calls fn and
// writes the result atomically, recording battleID so a result counts once.
type Store interface {
	Apply(ctx context.Context, battleID uuid.UUID, p1, p2 models.Participant, at time.Time, fn UpdateFunc) error
	Get(ctx context.Context, userID uuid.UUID) (*models.PlayerRating, error)
	Top(ctx context.Context, limit int) ([]models.PlayerRating, error)
}

// NewPlayerRating is the rating of a participant with no rated battles.
func NewPlayerRating(p models.Participant) models.PlayerRating {
	return models.PlayerRating{
		UserID:     p.ID,
		Name:       p.Name,
		Rating:     DefaultRating,
		Deviation:  DefaultDeviation,
		Volatility: DefaultVolatility,
	}
}

// Outcome is seat 1's result for Glicko-2: 1, 0 or 0.5.
func Outcome(w models.Winner) (float64, error) {
	switch w {
	case models.WinnerPlayer1:
		return 1, nil
	case models.WinnerPlayer2:
		return 0, nil
	case models.WinnerDraw:
		return 0.5, nil
	}
	return 0, fmt.Errorf("battle has no winner %q", w)
}

// Recorder applies completed battles to the rating store.
type Recorder struct {
	store  Store
	logger logrus.FieldLogger
}

func NewRecorder(store Store, logger logrus.FieldLogger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record rates a completed battle. Recording the same battle twice is a no-op.
func (r *Recorder) Record(ctx context.Context, b *models.Battle) error {
	if b.Status != models.StatusCompleted || b.Player2 == nil {
		return fmt.Errorf("battle %s is not completed", b.ID)
	}
	score, err := Outcome(b.Winner)
	if err != nil {
		return err
	}

	p1, p2 := b.Player1.Participant, b.Player2.Participant
	at := time.Now().UTC()
	if b.CompletedAt != nil {
		at = *b.CompletedAt
	}

	var n1, n2 models.PlayerRating
	err = r.store.Apply(ctx, b.ID, p1, p2, at, func(r1, r2 models.PlayerRating) (models.PlayerRating, models.PlayerRating) {
		// seat names can change between battles; keep the latest
		r1.Name, r2.Name = p1.Name, p2.Name
		n1, n2 = Update1v1(r1, r2, score)
		n1.UpdatedAt, n2.UpdatedAt = at, at
		return n1, n2
	})
	if errors.Is(err, ErrAlreadyRecorded) {
		r.logger.WithField("battle_id", b.ID).Debug("rating already recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record rating: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"battle_id": b.ID,
		"p1_rating": n1.Rating,
		"p2_rating": n2.Rating,
	}).Debug("ratings updated")
	return nil
}

// Leaderboard returns the highest rated players, clamping limit to
// [1, MaxLeaderboardLimit].
func (r *Recorder) Leaderboard(ctx context.Context, limit int) ([]models.PlayerRating, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	return r.store.Top(ctx, limit)
}

// Get returns a player's rating, or the default for one who has never finished a battle.
func (r *Recorder) Get(ctx context.Context, p models.Participant) (models.PlayerRating, error) {
	got, err := r.store.Get(ctx, p.ID)
	if err != nil {
		return models.PlayerRating{}, err
	}
	if got == nil {
		return NewPlayerRating(p), nil
	}
	return *got, nil
}
