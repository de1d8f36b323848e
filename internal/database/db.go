package database

import (
	"context"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql builds Postgres-flavoured statements.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// URLFromEnv returns DATABASE_URL, or a URL assembled from POSTGRES_USER,
// POSTGRES_PASSWORD, PG_HOST, PG_PORT and PG_DATABASE. Empty when neither is set.
func URLFromEnv() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if os.Getenv("PG_HOST") == "" {
		return ""
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		port,
		os.Getenv("PG_DATABASE"),
	)
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	config.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func qExec(ctx context.Context, db dbtx, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return db.Exec(ctx, sql, args...)
}

func qQuery(ctx context.Context, db dbtx, q sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, sql, args...)
}

func qRow(ctx context.Context, db dbtx, q sq.Sqlizer) (pgx.Row, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return db.QueryRow(ctx, sql, args...), nil
}
