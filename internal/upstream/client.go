// Package upstream implements the HTTP client for the third-party completion
// provider. It owns payload construction, the content encode/decode pair,
// response envelope parsing and the bounded call timeouts. Retry policy, if
// any, belongs to the caller: this layer never retries.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chatproxy/internal/core"
)

// Call timeout bounds. Below these, legitimate slow completions fail; above
// them, the proxy holds client connections open too long.
const (
	connectTimeout = 15 * time.Second
	writeTimeout   = 15 * time.Second
	readTimeout    = 30 * time.Second
)

// Config holds the upstream provider connection settings.
type Config struct {
	// BaseURL is the provider API root, e.g. https://api.openai.com/v1
	BaseURL string

	// APIKey is the bearer credential sent on every call.
	APIKey string
}

// Client talks to the provider's chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a Client with the bounded default timeouts.
func New(cfg Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// Upper bound across connect, write and read of one call.
			Timeout: connectTimeout + writeTimeout + readTimeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// NewWithHTTPClient creates a Client with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

// Complete sends one chat completion call with the given ordered history.
// Message order is preserved exactly as given; it is semantically meaningful
// to the model. Each content is percent-encoded on the way out and assistant
// content percent-decoded on the way back.
func (c *Client) Complete(ctx context.Context, model string, history []core.Message) (*core.ChatResponse, error) {
	payload := core.ChatRequest{
		Model:    model,
		Messages: make([]core.Message, len(history)),
	}
	for i, m := range history {
		payload.Messages[i] = core.Message{
			Role:    m.Role,
			Content: EncodeContent(m.Content),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewUpstreamError(0, "failed to marshal request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewUpstreamError(0, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("upstream call failed", "error", err)
		return nil, core.NewUpstreamError(0, err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("failed to read upstream response", "status", resp.StatusCode, "error", err)
		return nil, core.NewUpstreamError(resp.StatusCode, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("upstream returned non-200",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, core.NewUpstreamError(resp.StatusCode, string(respBody), nil)
	}

	if len(respBody) == 0 {
		slog.Error("upstream returned 200 with empty body")
		return nil, core.NewMalformedUpstreamError("empty response body", nil)
	}

	var envelope core.ChatResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		slog.Error("failed to parse upstream response", "body", string(respBody), "error", err)
		return nil, core.NewMalformedUpstreamError("unparsable response body", err)
	}

	if len(envelope.Choices) == 0 {
		slog.Error("upstream response has no choices", "body", string(respBody))
		return nil, core.NewMalformedUpstreamError("response contains no choices", nil)
	}

	for i := range envelope.Choices {
		decoded, err := DecodeContent(envelope.Choices[i].Message.Content)
		if err != nil {
			slog.Error("failed to decode choice content", "index", i, "error", err)
			return nil, core.NewMalformedUpstreamError("undecodable choice content", err)
		}
		envelope.Choices[i].Message.Content = decoded
	}

	return &envelope, nil
}
