package storage

import "database/sql"

// memoryStorage implements Storage for the in-memory backend.
// It holds no connection; stores built on it keep their own state.
type memoryStorage struct{}

// NewMemory creates a storage marker for the in-memory backend.
func NewMemory() Storage {
	return memoryStorage{}
}

func (memoryStorage) Type() string                { return TypeMemory }
func (memoryStorage) SQLiteDB() *sql.DB           { return nil }
func (memoryStorage) PostgreSQLPool() interface{} { return nil }
func (memoryStorage) MongoDatabase() interface{}  { return nil }
func (memoryStorage) Close() error                { return nil }
