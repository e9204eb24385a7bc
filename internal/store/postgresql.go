package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements UserStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates a PostgreSQL user store, creating the table and
// key index if they don't exist. The pool is owned by the storage layer.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			identity BIGSERIAL PRIMARY KEY,
			key TEXT UNIQUE,
			tokens_used BIGINT NOT NULL DEFAULT 0,
			tokens_authorized BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE UNIQUE INDEX IF NOT EXISTS idx_users_key ON users(key)"); err != nil {
		slog.Warn("failed to create users key index", "error", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// FindByKey returns the record for an access key, or ErrNotFound.
func (s *PostgreSQLStore) FindByKey(ctx context.Context, key string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT identity, COALESCE(key, ''), tokens_used, tokens_authorized, created_at, updated_at
		FROM users WHERE key = $1
	`, key)

	var u User
	err := row.Scan(&u.Identity, &u.Key, &u.TokensUsed, &u.TokensAuthorized, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// Create inserts a new record and returns it with its assigned identity.
func (s *PostgreSQLStore) Create(ctx context.Context, u *User) (*User, error) {
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (key, tokens_used, tokens_authorized, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING identity
	`, nullableKey(u.Key), u.TokensUsed, u.TokensAuthorized, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	out := *u
	out.Identity = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// SetKey persists the derived key onto a record that has none yet.
func (s *PostgreSQLStore) SetKey(ctx context.Context, identity int64, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET key = $1, updated_at = $2 WHERE identity = $3 AND key IS NULL
	`, key, time.Now().UTC(), identity)
	if err != nil {
		return fmt.Errorf("failed to set user key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE identity = $1)", identity).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// AddUsage atomically increments the used-token counter and returns the
// updated record in one round-trip.
func (s *PostgreSQLStore) AddUsage(ctx context.Context, key string, tokens int64) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET tokens_used = tokens_used + $1, updated_at = $2
		WHERE key = $3
		RETURNING identity, COALESCE(key, ''), tokens_used, tokens_authorized, created_at, updated_at
	`, tokens, time.Now().UTC(), key)

	var u User
	err := row.Scan(&u.Identity, &u.Key, &u.TokensUsed, &u.TokensAuthorized, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add usage: %w", err)
	}
	return &u, nil
}

// Close is a no-op; the pool is managed by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
