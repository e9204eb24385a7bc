// Package store persists per-key quota records. Backends share the database
// connections managed by the storage package; an in-memory implementation
// backs tests and ephemeral deployments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatproxy/internal/storage"
)

// ErrNotFound is returned when no record exists for a lookup key.
var ErrNotFound = errors.New("user not found")

// User is a quota record for one issued access key.
//
// Identity is store-assigned and immutable. Key is derived, unique and set
// at most once. TokensUsed only ever grows, and only via AddUsage with the
// total reported by the upstream provider for a completed call.
type User struct {
	Identity         int64     `json:"identity" bson:"identity"`
	Key              string    `json:"key" bson:"key"`
	TokensUsed       int64     `json:"tokens_used" bson:"tokens_used"`
	TokensAuthorized int64     `json:"tokens_authorized" bson:"tokens_authorized"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// UserStore is the persistence contract consumed by the completion proxy.
// Implementations must be safe for concurrent use. No guarantees are assumed
// beyond single-record atomicity.
type UserStore interface {
	// FindByKey returns the record for an access key, or ErrNotFound.
	FindByKey(ctx context.Context, key string) (*User, error)

	// Create persists a new record and returns it with its assigned identity.
	Create(ctx context.Context, u *User) (*User, error)

	// SetKey persists the derived key onto an existing record.
	SetKey(ctx context.Context, identity int64, key string) error

	// AddUsage atomically increments the record's used-token counter and
	// returns the updated record. The increment must never be lost under
	// concurrent calls; the counter never decreases.
	AddUsage(ctx context.Context, key string, tokens int64) (*User, error)

	// Close releases store resources (not the shared connection).
	Close() error
}

// New creates a UserStore on top of a shared storage connection.
func New(ctx context.Context, st storage.Storage) (UserStore, error) {
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, st.SQLiteDB())
	case storage.TypePostgreSQL:
		pool, ok := st.PostgreSQLPool().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("storage did not provide a pgx pool")
		}
		return NewPostgreSQLStore(ctx, pool)
	case storage.TypeMongoDB:
		db, ok := st.MongoDatabase().(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("storage did not provide a mongo database")
		}
		return NewMongoDBStore(ctx, db)
	case storage.TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", st.Type())
	}
}
