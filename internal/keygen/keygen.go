// Package keygen derives opaque access keys from numeric user identities.
package keygen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"chatproxy/internal/core"
)

// DefaultSalt is the application salt mixed into every derived key.
const DefaultSalt = "ChatAI"

// DefaultAlgorithm is the only digest currently supported.
const DefaultAlgorithm = "sha256"

// Generator derives fixed-length hexadecimal access keys.
// Keys are non-reversible and timestamp-salted: two calls for the same
// identity at different instants produce different keys. One-key-per-identity
// is enforced by the caller, which checks for an existing key before
// generating a new one.
type Generator struct {
	salt string
	now  func() time.Time
}

// New creates a Generator for the given digest algorithm and salt.
// An empty salt falls back to DefaultSalt. Requesting any algorithm other
// than sha256 returns a KeyGenerationUnavailable error; this is a fatal
// configuration problem, not a retryable condition.
func New(algorithm, salt string) (*Generator, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if algorithm != DefaultAlgorithm {
		return nil, core.NewKeyGenerationError(algorithm, nil)
	}
	if salt == "" {
		salt = DefaultSalt
	}
	return &Generator{salt: salt, now: time.Now}, nil
}

// Generate derives a 64-character lowercase hex key for the identity.
// The digest input combines the identity, the salt and a nanosecond
// timestamp, so the key cannot be recomputed from the identity alone.
func (g *Generator) Generate(identity int64) string {
	input := fmt.Sprintf("%d_%s_%d", identity, g.salt, g.now().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
