package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteStore implements UserStore for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite user store, creating the table and key
// index if they don't exist. The *sql.DB is owned by the storage layer.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			identity INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT UNIQUE,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			tokens_authorized INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE UNIQUE INDEX IF NOT EXISTS idx_users_key ON users(key)"); err != nil {
		slog.Warn("failed to create users key index", "error", err)
	}

	return &SQLiteStore{db: db}, nil
}

// FindByKey returns the record for an access key, or ErrNotFound.
func (s *SQLiteStore) FindByKey(ctx context.Context, key string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, key, tokens_used, tokens_authorized, created_at, updated_at
		FROM users WHERE key = ?
	`, key)
	return scanUser(row)
}

// Create inserts a new record and returns it with its assigned identity.
func (s *SQLiteStore) Create(ctx context.Context, u *User) (*User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (key, tokens_used, tokens_authorized, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullableKey(u.Key), u.TokensUsed, u.TokensAuthorized, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read assigned identity: %w", err)
	}

	out := *u
	out.Identity = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// SetKey persists the derived key onto a record that has none yet.
func (s *SQLiteStore) SetKey(ctx context.Context, identity int64, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET key = ?, updated_at = ? WHERE identity = ? AND key IS NULL
	`, key, time.Now().UTC(), identity)
	if err != nil {
		return fmt.Errorf("failed to set user key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either the record is missing or it already carries a key.
		var existing sql.NullString
		row := s.db.QueryRowContext(ctx, "SELECT key FROM users WHERE identity = ?", identity)
		if scanErr := row.Scan(&existing); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to check user key: %w", scanErr)
		}
	}
	return nil
}

// AddUsage atomically increments the used-token counter in a single UPDATE,
// so concurrent increments on the same key are never lost.
func (s *SQLiteStore) AddUsage(ctx context.Context, key string, tokens int64) (*User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET tokens_used = tokens_used + ?, updated_at = ? WHERE key = ?
	`, tokens, time.Now().UTC(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to add usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.FindByKey(ctx, key)
}

// Close is a no-op; the DB connection is managed by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var key sql.NullString
	err := row.Scan(&u.Identity, &key, &u.TokensUsed, &u.TokensAuthorized, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Key = key.String
	return &u, nil
}

// nullableKey maps an empty key to NULL so the unique index ignores
// records that haven't been issued a key yet.
func nullableKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}
