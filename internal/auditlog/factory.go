package auditlog

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatproxy/internal/storage"
)

// New creates an audit logger backed by the shared storage connection.
// The storage lifecycle stays with the caller; the logger only closes its
// own store wrapper.
//
// If audit logging is disabled in the config, returns a NoopLogger.
func New(store storage.Storage, cfg Config) (LoggerInterface, error) {
	if !cfg.Enabled {
		return &NoopLogger{}, nil
	}

	if store == nil {
		return nil, fmt.Errorf("storage is required when audit logging is enabled")
	}

	auditStore, err := createAuditStore(store, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	return NewLogger(auditStore, cfg), nil
}

// createAuditStore creates the appropriate AuditStore for the given storage backend.
func createAuditStore(store storage.Storage, retentionDays int) (AuditStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)

	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		pgxPool, ok := pool.(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", pool)
		}
		return NewPostgreSQLStore(pgxPool, retentionDays)

	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		mongoDB, ok := db.(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", db)
		}
		return NewMongoDBStore(mongoDB, retentionDays)

	case storage.TypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
