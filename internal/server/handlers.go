// Package server provides the HTTP surface of the metered completion proxy.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatproxy/internal/core"
)

// Proxy is the completion surface consumed by the HTTP handlers.
type Proxy interface {
	IssueKey(ctx context.Context) (*core.KeyResponse, error)
	Ask(ctx context.Context, content string) (*core.Message, error)
	Continue(ctx context.Context, history []core.Message) (*core.Message, error)
	LogClient(ctx context.Context, entry *core.ClientLog)
}

// Handler holds the HTTP handlers
type Handler struct {
	proxy Proxy
}

// NewHandler creates a new handler backed by the given proxy
func NewHandler(p Proxy) *Handler {
	return &Handler{proxy: p}
}

// IssueKey handles GET /chatai/requests
func (h *Handler) IssueKey(c echo.Context) error {
	resp, err := h.proxy.IssueKey(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Ask handles POST /chatai/requests
func (h *Handler) Ask(c echo.Context) error {
	var req core.AskRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if req.Content == "" {
		return invalidRequest(c, "content is required")
	}

	msg, err := h.proxy.Ask(c.Request().Context(), req.Content)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// Continue handles POST /chatai/requests/continue
func (h *Handler) Continue(c echo.Context) error {
	var history []core.Message
	if err := c.Bind(&history); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}
	if len(history) == 0 {
		return invalidRequest(c, "conversation history is required")
	}
	for _, m := range history {
		if m.Role != core.RoleUser && m.Role != core.RoleAssistant {
			return invalidRequest(c, "unsupported role: "+m.Role)
		}
	}

	msg, err := h.proxy.Continue(c.Request().Context(), history)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// ClientLog handles POST /chatai/log
func (h *Handler) ClientLog(c echo.Context) error {
	var entry core.ClientLog
	if err := c.Bind(&entry); err != nil {
		return invalidRequest(c, "invalid request body: "+err.Error())
	}

	h.proxy.LogClient(c.Request().Context(), &entry)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts proxy errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var proxyErr *core.ProxyError
	if errors.As(err, &proxyErr) {
		return c.JSON(proxyErr.HTTPStatusCode(), proxyErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

// invalidRequest writes a 400 in the same wire shape as proxy errors.
func invalidRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "invalid_request",
			"message": message,
		},
	})
}
