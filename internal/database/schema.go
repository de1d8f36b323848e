package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           UUID PRIMARY KEY,
		email        TEXT UNIQUE,
		password     TEXT NOT NULL DEFAULT '',
		username     TEXT NOT NULL,
		is_ephemeral BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS battles (
		id              UUID PRIMARY KEY,
		image_url       TEXT NOT NULL,
		image_id        TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL CHECK (status IN ('waiting', 'active', 'completed')),
		p1_id           UUID NOT NULL,
		p1_name         TEXT NOT NULL DEFAULT '',
		p1_prompt       TEXT,
		p1_submitted_at TIMESTAMPTZ,
		p1_score        INTEGER CHECK (p1_score BETWEEN 0 AND 100),
		p1_feedback     TEXT NOT NULL DEFAULT '',
		p1_scored_at    TIMESTAMPTZ,
		p2_id           UUID,
		p2_name         TEXT,
		p2_prompt       TEXT,
		p2_submitted_at TIMESTAMPTZ,
		p2_score        INTEGER CHECK (p2_score BETWEEN 0 AND 100),
		p2_feedback     TEXT NOT NULL DEFAULT '',
		p2_scored_at    TIMESTAMPTZ,
		winner          TEXT NOT NULL DEFAULT '',
		match_analysis  TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		completed_at    TIMESTAMPTZ,
		version         INTEGER NOT NULL DEFAULT 1,
		CHECK ((status = 'waiting') = (p2_id IS NULL)),
		CHECK ((status = 'completed') = (completed_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS battles_waiting_idx ON battles (created_at) WHERE status = 'waiting'`,
	`CREATE INDEX IF NOT EXISTS battles_active_idx ON battles (created_at) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS player_ratings (
		user_id    UUID PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		rating     DOUBLE PRECISION NOT NULL,
		deviation  DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		wins       INTEGER NOT NULL DEFAULT 0,
		losses     INTEGER NOT NULL DEFAULT 0,
		draws      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS player_ratings_rating_idx ON player_ratings (rating DESC)`,
	`CREATE TABLE IF NOT EXISTS rating_history (
		battle_id  UUID NOT NULL REFERENCES battles (id),
		user_id    UUID NOT NULL,
		old_rating DOUBLE PRECISION NOT NULL,
		new_rating DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (battle_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS battle_events (
		battle_id   UUID NOT NULL,
		version     INTEGER NOT NULL,
		event       TEXT NOT NULL,
		status      TEXT NOT NULL,
		battle      JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (battle_id, version)
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	err := pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
