package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/rating"
)

var ratingColumns = []string{
	"user_id", "name", "rating", "deviation", "volatility", "wins", "losses", "draws", "updated_at",
}

// RatingStore is the Postgres rating.Store. Every applied battle leaves one
// rating_history row per seat; the (battle_id, user_id) key makes a replay fail.
type RatingStore struct {
	db *pgxpool.Pool
}

func NewRatingStore(db *pgxpool.Pool) *RatingStore {
	return &RatingStore{db: db}
}

// seedRatings inserts default rows for first-time players in user_id order,
// the same order Apply locks them in.
func seedRatings(p1, p2 models.Participant, at time.Time) sq.InsertBuilder {
	if bytes.Compare(p2.ID[:], p1.ID[:]) < 0 {
		p1, p2 = p2, p1
	}
	q := psql.Insert("player_ratings").
		Columns("user_id", "name", "rating", "deviation", "volatility", "updated_at")
	for _, p := range []models.Participant{p1, p2} {
		d := rating.NewPlayerRating(p)
		q = q.Values(d.UserID, d.Name, d.Rating, d.Deviation, d.Volatility, at)
	}
	return q.Suffix("ON CONFLICT (user_id) DO NOTHING")
}

func (s *RatingStore) Apply(ctx context.Context, battleID uuid.UUID, p1, p2 models.Participant, at time.Time, fn rating.UpdateFunc) error {
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rating_history WHERE battle_id=$1)`, battleID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return rating.ErrAlreadyRecorded
		}

		if _, err := qExec(ctx, tx, seedRatings(p1, p2, at)); err != nil {
			return err
		}

		// lock in key order so two battles sharing players cannot deadlock
		rows, err := qQuery(ctx, tx, psql.Select(ratingColumns...).From("player_ratings").
			Where(sq.Eq{"user_id": []uuid.UUID{p1.ID, p2.ID}}).
			OrderBy("user_id").
			Suffix("FOR UPDATE"))
		if err != nil {
			return err
		}
		current := make(map[uuid.UUID]models.PlayerRating, 2)
		for rows.Next() {
			r, err := scanRating(rows)
			if err != nil {
				rows.Close()
				return err
			}
			current[r.UserID] = *r
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		old1, old2 := current[p1.ID], current[p2.ID]
		n1, n2 := fn(old1, old2)
		for _, r := range []models.PlayerRating{n1, n2} {
			upd := psql.Update("player_ratings").
				Set("name", r.Name).
				Set("rating", r.Rating).
				Set("deviation", r.Deviation).
				Set("volatility", r.Volatility).
				Set("wins", r.Wins).
				Set("losses", r.Losses).
				Set("draws", r.Draws).
				Set("updated_at", r.UpdatedAt).
				Where(sq.Eq{"user_id": r.UserID})
			if _, err := qExec(ctx, tx, upd); err != nil {
				return err
			}
		}

		hist := psql.Insert("rating_history").
			Columns("battle_id", "user_id", "old_rating", "new_rating", "created_at").
			Values(battleID, p1.ID, old1.Rating, n1.Rating, at).
			Values(battleID, p2.ID, old2.Rating, n2.Rating, at)
		_, err = qExec(ctx, tx, hist)
		return err
	})
	if errors.Is(err, rating.ErrAlreadyRecorded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return rating.ErrAlreadyRecorded
	}
	if err != nil {
		return fmt.Errorf("failed to apply ratings: %w", err)
	}
	return nil
}

// Get returns nil for a player with no rated battles.
func (s *RatingStore) Get(ctx context.Context, userID uuid.UUID) (*models.PlayerRating, error) {
	row, err := qRow(ctx, s.db, psql.Select(ratingColumns...).From("player_ratings").Where(sq.Eq{"user_id": userID}))
	if err != nil {
		return nil, err
	}
	r, err := scanRating(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rating: %w", err)
	}
	return r, nil
}

func (s *RatingStore) Top(ctx context.Context, limit int) ([]models.PlayerRating, error) {
	q := psql.Select(ratingColumns...).From("player_ratings").OrderBy("rating DESC", "user_id ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := qQuery(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []models.PlayerRating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRating(row pgx.Row) (*models.PlayerRating, error) {
	var r models.PlayerRating
	err := row.Scan(&r.UserID, &r.Name, &r.Rating, &r.Deviation, &r.Volatility, &r.Wins, &r.Losses, &r.Draws, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
