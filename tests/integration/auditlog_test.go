//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"chatproxy/internal/auditlog"
)

func sampleEntries(n int) []*auditlog.Entry {
	entries := make([]*auditlog.Entry, n)
	for i := range entries {
		entries[i] = &auditlog.Entry{
			ID:               uuid.NewString(),
			RequestID:        uuid.NewString(),
			KeyHash:          auditlog.HashKey("integration-key"),
			Operation:        auditlog.OperationAsk,
			Model:            "gpt-3.5-turbo",
			PromptTokens:     10,
			CompletionTokens: 32,
			TotalTokens:      42,
			Outcome:          auditlog.OutcomeOK,
			DurationMS:       120,
			Timestamp:        time.Now(),
		}
	}
	return entries
}

func TestPostgreSQLAuditStore(t *testing.T) {
	store, err := auditlog.NewPostgreSQLStore(pgPool, 0)
	if err != nil {
		t.Fatalf("NewPostgreSQLStore: %v", err)
	}
	defer store.Close()

	entries := sampleEntries(25)
	if err := store.WriteBatch(testCtx, entries); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	var count int
	err = pgPool.QueryRow(testCtx,
		"SELECT COUNT(*) FROM audit_log WHERE key_hash = $1", entries[0].KeyHash).Scan(&count)
	if err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count < len(entries) {
		t.Errorf("persisted %d entries, want at least %d", count, len(entries))
	}

	// Re-writing the same batch must not duplicate rows
	if err := store.WriteBatch(testCtx, entries); err != nil {
		t.Fatalf("second WriteBatch: %v", err)
	}
	var after int
	err = pgPool.QueryRow(testCtx,
		"SELECT COUNT(*) FROM audit_log WHERE key_hash = $1", entries[0].KeyHash).Scan(&after)
	if err != nil {
		t.Fatalf("count query: %v", err)
	}
	if after != count {
		t.Errorf("duplicate batch changed row count from %d to %d", count, after)
	}
}

func TestMongoDBAuditStore(t *testing.T) {
	store, err := auditlog.NewMongoDBStore(mongoDatabase, 0)
	if err != nil {
		t.Fatalf("NewMongoDBStore: %v", err)
	}
	defer store.Close()

	entries := sampleEntries(10)
	if err := store.WriteBatch(testCtx, entries); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	coll := mongoDatabase.Collection("audit_log")
	count, err := coll.CountDocuments(testCtx, bson.M{"_id": entries[0].ID})
	if err != nil {
		t.Fatalf("CountDocuments: %v", err)
	}
	if count != 1 {
		t.Errorf("entry not persisted, count = %d", count)
	}
}
