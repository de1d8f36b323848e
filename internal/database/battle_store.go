package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/models"
)

var battleColumns = []string{
	"id", "image_url", "image_id", "status",
	"p1_id", "p1_name", "p1_prompt", "p1_submitted_at", "p1_score", "p1_feedback", "p1_scored_at",
	"p2_id", "p2_name", "p2_prompt", "p2_submitted_at", "p2_score", "p2_feedback", "p2_scored_at",
	"winner", "match_analysis", "created_at", "completed_at", "version",
}

// BattleStore is the Postgres battle.Store. Conditional updates compile to a single
// UPDATE ... WHERE <expected state> RETURNING, so the row lock is the only arbiter
// between concurrent writers.
type BattleStore struct {
	db *pgxpool.Pool
}

func NewBattleStore(db *pgxpool.Pool) *BattleStore {
	return &BattleStore{db: db}
}

func (s *BattleStore) Create(ctx context.Context, b *models.Battle) error {
	var p2 models.PlayerSlot
	var p2ID *uuid.UUID
	var p2Name *string
	if b.Player2 != nil {
		p2 = *b.Player2
		p2ID, p2Name = &p2.ID, &p2.Name
	}

	q := psql.Insert("battles").Columns(battleColumns...).Values(
		b.ID, b.TargetImage.URL, b.TargetImage.ID, string(b.Status),
		b.Player1.ID, b.Player1.Name, b.Player1.Prompt, b.Player1.SubmittedAt, b.Player1.Score, b.Player1.Feedback, b.Player1.ScoredAt,
		p2ID, p2Name, p2.Prompt, p2.SubmittedAt, p2.Score, p2.Feedback, p2.ScoredAt,
		string(b.Winner), b.MatchAnalysis, b.CreatedAt, b.CompletedAt, b.Version,
	)
	if _, err := qExec(ctx, s.db, q); err != nil {
		return fmt.Errorf("failed to insert battle: %w", err)
	}
	return nil
}

func (s *BattleStore) Get(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	row, err := qRow(ctx, s.db, psql.Select(battleColumns...).From("battles").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	b, err := scanBattle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", battle.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load battle: %w", err)
	}
	return b, nil
}

func (s *BattleStore) Update(ctx context.Context, id uuid.UUID, cond battle.Condition, mut battle.Mutation) (*models.Battle, error) {
	if cond.Status == "" {
		return nil, fmt.Errorf("%w: update without status condition", battle.ErrInvalidInput)
	}

	q := applyMutation(psql.Update("battles"), mut).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id}).
		Where(conditionSQL(cond)).
		Suffix("RETURNING " + strings.Join(battleColumns, ", "))

	row, err := qRow(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	b, err := scanBattle(row)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update battle: %w", err)
	}

	// nothing matched: tell a missing battle apart from a changed one
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM battles WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check battle: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", battle.ErrNotFound, id)
	}
	return nil, fmt.Errorf("%w: battle %s changed state", battle.ErrConflict, id)
}

func (s *BattleStore) ListWaiting(ctx context.Context, limit int) ([]*models.Battle, error) {
	q := psql.Select(battleColumns...).From("battles").
		Where(sq.Eq{"status": string(models.StatusWaiting)}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.list(ctx, q)
}

func (s *BattleStore) ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]*models.Battle, error) {
	pending := func(p string) sq.And {
		return sq.And{
			sq.NotEq{p + "prompt": nil},
			sq.Eq{p + "score": nil},
			sq.Lt{p + "submitted_at": olderThan},
		}
	}
	unfinalized := sq.And{
		sq.NotEq{"p1_score": nil},
		sq.NotEq{"p2_score": nil},
		sq.Lt{"p1_scored_at": olderThan},
		sq.Lt{"p2_scored_at": olderThan},
	}

	q := psql.Select(battleColumns...).From("battles").
		Where(sq.Eq{"status": string(models.StatusActive)}).
		Where(sq.Or{pending("p1_"), pending("p2_"), unfinalized}).
		OrderBy("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.list(ctx, q)
}

func (s *BattleStore) list(ctx context.Context, q sq.SelectBuilder) ([]*models.Battle, error) {
	rows, err := qQuery(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query battles: %w", err)
	}
	defer rows.Close()

	var out []*models.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan battle: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func seatPrefix(seat models.Seat) string {
	if seat == models.Seat2 {
		return "p2_"
	}
	return "p1_"
}

// conditionSQL is the WHERE clause equivalent of battle.Condition.Matches.
func conditionSQL(c battle.Condition) sq.And {
	where := sq.And{sq.Eq{"status": string(c.Status)}}
	if c.SeatOpen {
		where = append(where, sq.Eq{"p2_id": nil})
	}
	if c.Seat != models.SeatNone {
		p := seatPrefix(c.Seat)
		where = append(where, sq.NotEq{p + "id": nil})
		if c.Occupant != uuid.Nil {
			where = append(where, sq.Eq{p + "id": c.Occupant})
		}
		if c.PromptUnset {
			where = append(where, sq.Eq{p + "prompt": nil})
		}
		if c.PromptSet {
			where = append(where, sq.NotEq{p + "prompt": nil})
		}
		if c.ScoreUnset {
			where = append(where, sq.Eq{p + "score": nil})
		}
	}
	if c.BothScored {
		where = append(where, sq.NotEq{"p1_score": nil}, sq.NotEq{"p2_score": nil})
	}
	return where
}

// applyMutation is the SET clause equivalent of battle.Mutation.Apply, minus the version bump.
func applyMutation(q sq.UpdateBuilder, m battle.Mutation) sq.UpdateBuilder {
	if m.Opponent != nil {
		q = q.Set("p2_id", m.Opponent.ID).Set("p2_name", m.Opponent.Name)
	}
	if m.Seat != models.SeatNone {
		p := seatPrefix(m.Seat)
		if m.Prompt != nil {
			q = q.Set(p+"prompt", *m.Prompt).Set(p+"submitted_at", m.At)
		}
		if m.Score != nil {
			q = q.Set(p+"score", *m.Score).Set(p+"feedback", m.Feedback).Set(p+"scored_at", m.At)
		}
	}
	if m.Status != "" {
		q = q.Set("status", string(m.Status))
		if m.Status == models.StatusCompleted {
			q = q.Set("winner", string(m.Winner)).
				Set("match_analysis", m.MatchAnalysis).
				Set("completed_at", m.At)
		}
	}
	return q
}

func scanBattle(row pgx.Row) (*models.Battle, error) {
	var (
		b              models.Battle
		status, winner string
		p2ID           pgtype.UUID
		p2Name         *string
		p2             models.PlayerSlot
	)
	err := row.Scan(
		&b.ID, &b.TargetImage.URL, &b.TargetImage.ID, &status,
		&b.Player1.ID, &b.Player1.Name, &b.Player1.Prompt, &b.Player1.SubmittedAt, &b.Player1.Score, &b.Player1.Feedback, &b.Player1.ScoredAt,
		&p2ID, &p2Name, &p2.Prompt, &p2.SubmittedAt, &p2.Score, &p2.Feedback, &p2.ScoredAt,
		&winner, &b.MatchAnalysis, &b.CreatedAt, &b.CompletedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.BattleStatus(status)
	b.Winner = models.Winner(winner)
	if p2ID.Valid {
		p2.ID = uuid.UUID(p2ID.Bytes)
		if p2Name != nil {
			p2.Name = *p2Name
		}
		b.Player2 = &p2
	}
	return &b, nil
}
