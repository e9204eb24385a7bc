// Package auditlog provides the per-request audit ledger for the proxy.
// Every completion call, key issuance and client-side log submission leaves
// one entry recording who called, what was asked of the provider and how
// many tokens the call consumed.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "denied"
	OutcomeFailed = "failed"
)

// Operations recorded in the ledger.
const (
	OperationIssueKey  = "issue_key"
	OperationAsk       = "ask"
	OperationContinue  = "continue"
	OperationClientLog = "client_log"
)

// Anomaly markers.
const (
	// AnomalyUsageMissing marks a successful completion whose response
	// carried no usage block, so nothing could be charged against the quota.
	AnomalyUsageMissing = "usage_missing"
)

// KeyHashPrefixLength is how many hex characters of the key hash are kept.
// Enough to correlate entries per caller without storing the key itself.
const KeyHashPrefixLength = 16

// AuditStore defines the interface for audit storage backends.
// Implementations must be safe for concurrent use.
type AuditStore interface {
	// WriteBatch writes multiple audit entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Entry represents a single audit record.
type Entry struct {
	// ID is a unique identifier for this entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the server-assigned request correlation ID
	RequestID string `json:"request_id" bson:"request_id"`

	// KeyHash is a short SHA-256 prefix of the caller's access key.
	// The raw key is never stored.
	KeyHash string `json:"key_hash" bson:"key_hash"`

	// Operation is which proxy operation produced this entry
	Operation string `json:"operation" bson:"operation"`

	// Model is the upstream model the call targeted, if any
	Model string `json:"model,omitempty" bson:"model,omitempty"`

	// Token counts reported by the provider for this call
	PromptTokens     int64 `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens" bson:"total_tokens"`

	// Outcome is one of ok, denied or failed
	Outcome string `json:"outcome" bson:"outcome"`

	// Anomaly flags irregular but non-fatal conditions, e.g. usage_missing
	Anomaly string `json:"anomaly,omitempty" bson:"anomaly,omitempty"`

	// DurationMS is the wall-clock duration of the operation
	DurationMS int64 `json:"duration_ms" bson:"duration_ms"`

	// Timestamp is when the operation completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Config holds audit logging configuration
type Config struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// BufferSize is the number of entries to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep audit data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}

// HashKey creates a short hash of an access key for correlation.
// Returns the first KeyHashPrefixLength hex characters of its SHA-256.
func HashKey(key string) string {
	if key == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])[:KeyHashPrefixLength]
}
