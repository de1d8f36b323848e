package rating

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/promptquest/internal/models"
)

func completedBattle(p1, p2 models.Participant, w models.Winner) *models.Battle {
	now := time.Now().UTC()
	s1, s2 := 60, 40
	return &models.Battle{
		ID:          uuid.New(),
		Status:      models.StatusCompleted,
		Player1:     models.PlayerSlot{Participant: p1, Score: &s1},
		Player2:     &models.PlayerSlot{Participant: p2, Score: &s2},
		Winner:      w,
		CompletedAt: &now,
	}
}

func newRecorder() *Recorder {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRecorder(NewMemoryStore(), logger)
}

func TestRecordUpdatesBothSeats(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	alice := models.Participant{ID: uuid.New(), Name: "alice"}
	bob := models.Participant{ID: uuid.New(), Name: "bob"}

	b := completedBattle(alice, bob, models.WinnerPlayer1)
	require.NoError(t, rec.Record(ctx, b))

	ra, err := rec.Get(ctx, alice)
	require.NoError(t, err)
	rb, err := rec.Get(ctx, bob)
	require.NoError(t, err)
	assert.Greater(t, ra.Rating, DefaultRating)
	assert.Less(t, rb.Rating, DefaultRating)
	assert.Equal(t, 1, ra.Played())
	assert.Equal(t, *b.CompletedAt, ra.UpdatedAt)

	// the same battle counts once
	require.NoError(t, rec.Record(ctx, b))
	again, err := rec.Get(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, ra, again)
}

func TestRecordRejectsUnfinished(t *testing.T) {
	rec := newRecorder()
	b := completedBattle(models.Participant{ID: uuid.New()}, models.Participant{ID: uuid.New()}, models.WinnerNone)
	assert.Error(t, rec.Record(context.Background(), b))

	b.Status = models.StatusActive
	b.Winner = models.WinnerDraw
	assert.Error(t, rec.Record(context.Background(), b))
}

func TestGetUnratedPlayer(t *testing.T) {
	rec := newRecorder()
	p := models.Participant{ID: uuid.New(), Name: "new"}
	r, err := rec.Get(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, NewPlayerRating(p), r)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	champ := models.Participant{ID: uuid.New(), Name: "champ"}

	for i := 0; i < 3; i++ {
		opp := models.Participant{ID: uuid.New(), Name: "opp"}
		require.NoError(t, rec.Record(ctx, completedBattle(champ, opp, models.WinnerPlayer1)))
	}

	top, err := rec.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, champ.ID, top[0].UserID)
	assert.Equal(t, 3, top[0].Wins)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Rating, top[i].Rating)
	}

	top, err = rec.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestOutcome(t *testing.T) {
	for w, want := range map[models.Winner]float64{
		models.WinnerPlayer1: 1,
		models.WinnerPlayer2: 0,
		models.WinnerDraw:    0.5,
	} {
		got, err := Outcome(w)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Outcome(models.WinnerNone)
	assert.Error(t, err)
}
