package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// createTestDB creates an in-memory SQLite database for testing.
func createTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStore_WriteBatch(t *testing.T) {
	db := createTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	entries := []*Entry{
		{
			ID:               "entry-ask",
			RequestID:        "req-1",
			KeyHash:          HashKey("some-access-key"),
			Operation:        OperationAsk,
			Model:            "gpt-3.5-turbo",
			PromptTokens:     12,
			CompletionTokens: 30,
			TotalTokens:      42,
			Outcome:          OutcomeOK,
			DurationMS:       137,
			Timestamp:        time.Now(),
		},
		{
			ID:        "entry-denied",
			RequestID: "req-2",
			KeyHash:   HashKey("some-access-key"),
			Operation: OperationContinue,
			Model:     "gpt-3.5-turbo",
			Outcome:   OutcomeDenied,
			Timestamp: time.Now(),
		},
	}

	if err := store.WriteBatch(ctx, entries); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	rows, err := db.Query("SELECT id, operation, outcome, total_tokens FROM audit_log ORDER BY id")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	type row struct {
		operation string
		outcome   string
		total     int64
	}
	results := make(map[string]row)
	for rows.Next() {
		var id string
		var r row
		if err := rows.Scan(&id, &r.operation, &r.outcome, &r.total); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		results[id] = r
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error: %v", err)
	}

	got, ok := results["entry-ask"]
	if !ok {
		t.Fatal("entry-ask not persisted")
	}
	if got.operation != OperationAsk || got.outcome != OutcomeOK || got.total != 42 {
		t.Errorf("entry-ask persisted wrong: %+v", got)
	}

	got, ok = results["entry-denied"]
	if !ok {
		t.Fatal("entry-denied not persisted")
	}
	if got.outcome != OutcomeDenied || got.total != 0 {
		t.Errorf("entry-denied persisted wrong: %+v", got)
	}
}

func TestSQLiteStore_WriteBatch_Chunking(t *testing.T) {
	db := createTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// More entries than fit in a single chunk, so at least three batches run.
	numEntries := 250
	entries := make([]*Entry, numEntries)
	for i := 0; i < numEntries; i++ {
		entries[i] = &Entry{
			ID:        fmt.Sprintf("entry-%03d", i),
			RequestID: fmt.Sprintf("req-%03d", i),
			Operation: OperationAsk,
			Outcome:   OutcomeOK,
			Timestamp: time.Now(),
		}
	}

	if err := store.WriteBatch(ctx, entries); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != numEntries {
		t.Errorf("persisted %d entries, want %d", count, numEntries)
	}
}

func TestSQLiteStore_WriteBatch_DuplicateIDsIgnored(t *testing.T) {
	db := createTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	entry := &Entry{
		ID:        "dup",
		RequestID: "req-1",
		Operation: OperationIssueKey,
		Outcome:   OutcomeOK,
		Timestamp: time.Now(),
	}

	if err := store.WriteBatch(ctx, []*Entry{entry}); err != nil {
		t.Fatalf("first WriteBatch failed: %v", err)
	}
	if err := store.WriteBatch(ctx, []*Entry{entry}); err != nil {
		t.Fatalf("second WriteBatch failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("duplicate ID persisted %d rows, want 1", count)
	}
}
