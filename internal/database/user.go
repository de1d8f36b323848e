package database

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-s-yu/promptquest/internal/models"
	"github.com/jason-s-yu/promptquest/internal/users"
)

// UserStore is the Postgres users.Store.
type UserStore struct {
	db *pgxpool.Pool
}

func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx,
			`INSERT INTO users (id, email, password, username, is_ephemeral, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			u.ID, email, u.Password, u.Username, u.IsEphemeral, u.CreatedAt,
		)
		return execErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return users.ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.get(ctx, sq.Eq{"email": email})
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.get(ctx, sq.Eq{"id": id})
}

func (s *UserStore) get(ctx context.Context, where sq.Eq) (*models.User, error) {
	row, err := qRow(ctx, s.db, psql.
		Select("id", "COALESCE(email, '')", "password", "username", "is_ephemeral", "created_at").
		From("users").
		Where(where))
	if err != nil {
		return nil, err
	}

	var u models.User
	err = row.Scan(&u.ID, &u.Email, &u.Password, &u.Username, &u.IsEphemeral, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}
