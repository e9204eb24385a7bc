package core

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey contextKey = "request-id"
	accessKeyKey contextKey = "access-key"
)

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAccessKey returns a new context carrying the caller's opaque access key.
// The value lives and dies with the request context; nothing is stored
// globally, so one request's identity can never leak into another.
func WithAccessKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, accessKeyKey, key)
}

// GetAccessKey retrieves the caller's access key from the context.
// Returns empty string if the request carried no key.
func GetAccessKey(ctx context.Context) string {
	if v, ok := ctx.Value(accessKeyKey).(string); ok {
		return v
	}
	return ""
}
