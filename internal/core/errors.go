// Package core provides shared types, errors and request context for the
// metered completion proxy.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType classifies a terminal proxy outcome.
type ErrorType string

const (
	// ErrorTypeUnknownKey indicates the presented access key has no record.
	ErrorTypeUnknownKey ErrorType = "unknown_key"
	// ErrorTypeQuotaExceeded indicates the record is over its token ceiling.
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded"
	// ErrorTypeUpstream indicates a network failure or non-200 from the provider.
	ErrorTypeUpstream ErrorType = "upstream_unavailable"
	// ErrorTypeMalformedUpstream indicates a 200 with an unusable body.
	ErrorTypeMalformedUpstream ErrorType = "malformed_upstream_response"
	// ErrorTypeUsageMissing flags a successful response without a usage block.
	// It never fails the request; accounting is skipped and the anomaly logged.
	ErrorTypeUsageMissing ErrorType = "usage_missing"
	// ErrorTypeKeyGeneration indicates the configured digest algorithm is
	// unavailable. Fatal for the request, never retried.
	ErrorTypeKeyGeneration ErrorType = "key_generation_unavailable"
)

// ProxyError is the error type for all terminal proxy outcomes.
type ProxyError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Err carries the original cause for debugging (not exposed to clients).
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status this outcome maps to.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeUnknownKey:
		return http.StatusForbidden
	case ErrorTypeQuotaExceeded:
		return http.StatusConflict
	case ErrorTypeUpstream, ErrorTypeMalformedUpstream, ErrorTypeKeyGeneration:
		return http.StatusExpectationFailed
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the wire shape returned to clients.
func (e *ProxyError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewUnknownKeyError creates an error for a key with no quota record.
func NewUnknownKeyError(err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeUnknownKey,
		Message:    "no record found for the presented access key",
		StatusCode: http.StatusForbidden,
		Err:        err,
	}
}

// NewQuotaExceededError creates an error for a record over its ceiling.
func NewQuotaExceededError(used, authorized int64) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeQuotaExceeded,
		Message:    fmt.Sprintf("token quota exceeded: %d used of %d authorized", used, authorized),
		StatusCode: http.StatusConflict,
	}
}

// NewUpstreamError creates an error for a failed provider call.
// upstreamStatus is the provider's HTTP status, or 0 for transport failures.
func NewUpstreamError(upstreamStatus int, message string, err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeUpstream,
		Message:    fmt.Sprintf("upstream call failed (status %d): %s", upstreamStatus, message),
		StatusCode: http.StatusExpectationFailed,
		Err:        err,
	}
}

// NewMalformedUpstreamError creates an error for a 200 with an unusable body.
func NewMalformedUpstreamError(message string, err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeMalformedUpstream,
		Message:    message,
		StatusCode: http.StatusExpectationFailed,
		Err:        err,
	}
}

// NewKeyGenerationError creates an error for an unavailable digest algorithm.
func NewKeyGenerationError(algorithm string, err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeKeyGeneration,
		Message:    fmt.Sprintf("digest algorithm %q is not available", algorithm),
		StatusCode: http.StatusExpectationFailed,
		Err:        err,
	}
}
