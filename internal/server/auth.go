package server

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatproxy/internal/core"
)

// RequestContextMiddleware attaches the per-request identity to the request
// context: a correlation ID (taken from X-Request-ID or freshly generated)
// and the caller's opaque access key from the Authorization header.
//
// The values live only on the request's context and are released with it,
// so one caller's identity can never bleed into another request.
func RequestContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			// Echo the ID back so clients and log pipelines can correlate
			c.Response().Header().Set("X-Request-ID", requestID)

			ctx := core.WithRequestID(req.Context(), requestID)
			if key := accessKeyFromHeader(req.Header.Get("Authorization")); key != "" {
				ctx = core.WithAccessKey(ctx, key)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// accessKeyFromHeader extracts the opaque access key from an Authorization
// header value. The key is the header value itself; a conventional
// "Bearer " prefix is tolerated and stripped.
func accessKeyFromHeader(header string) string {
	key := strings.TrimSpace(header)
	if strings.HasPrefix(key, "Bearer ") {
		key = strings.TrimSpace(strings.TrimPrefix(key, "Bearer "))
	}
	return key
}
