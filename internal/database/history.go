package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/historian"
	"github.com/jason-s-yu/promptquest/internal/models"
)

// HistoryStore is the historian's Postgres sink. A battle version is archived once.
type HistoryStore struct {
	db *pgxpool.Pool
}

func NewHistoryStore(db *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) InsertHistory(ctx context.Context, recs []historian.Record) error {
	if len(recs) == 0 {
		return nil
	}
	q := psql.Insert("battle_events").
		Columns("battle_id", "version", "event", "status", "battle", "recorded_at").
		Suffix("ON CONFLICT (battle_id, version) DO NOTHING")
	for _, r := range recs {
		q = q.Values(r.BattleID, r.Version, string(r.Event), string(r.Status), []byte(r.Battle), r.RecordedAt)
	}

	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := qExec(ctx, tx, q)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert battle history: %w", err)
	}
	return nil
}

func (s *HistoryStore) ListHistory(ctx context.Context, battleID uuid.UUID) ([]historian.Record, error) {
	rows, err := qQuery(ctx, s.db, psql.
		Select("battle_id", "version", "event", "status", "battle", "recorded_at").
		From("battle_events").
		Where(sq.Eq{"battle_id": battleID}).
		OrderBy("version ASC"))
	if err != nil {
		return nil, fmt.Errorf("failed to query battle history: %w", err)
	}
	defer rows.Close()

	var out []historian.Record
	for rows.Next() {
		var (
			r             historian.Record
			event, status string
			data          []byte
		)
		if err := rows.Scan(&r.BattleID, &r.Version, &event, &status, &data, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan battle history: %w", err)
		}
		r.Event = battle.EventKind(event)
		r.Status = models.BattleStatus(status)
		r.Battle = data
		out = append(out, r)
	}
	return out, rows.Err()
}
