package proxy

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"chatproxy/internal/auditlog"
	"chatproxy/internal/core"
	"chatproxy/internal/keygen"
	"chatproxy/internal/store"
)

// completerSpy records upstream calls and returns a canned response.
type completerSpy struct {
	mu      sync.Mutex
	calls   int
	model   string
	history []core.Message
	resp    *core.ChatResponse
	err     error
}

func (s *completerSpy) Complete(_ context.Context, model string, history []core.Message) (*core.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.model = model
	s.history = history
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *completerSpy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// auditCapture is a synchronous LoggerInterface for asserting ledger writes.
type auditCapture struct {
	mu      sync.Mutex
	entries []*auditlog.Entry
}

func (a *auditCapture) Write(e *auditlog.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditCapture) Config() auditlog.Config { return auditlog.Config{Enabled: true} }
func (a *auditCapture) Close() error            { return nil }

func (a *auditCapture) last(t *testing.T) *auditlog.Entry {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		t.Fatal("no audit entries written")
	}
	return a.entries[len(a.entries)-1]
}

func responseWithUsage(content string, total int) *core.ChatResponse {
	return &core.ChatResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Model:   "gpt-3.5-turbo",
		Choices: []core.Choice{{Message: core.Message{Role: core.RoleAssistant, Content: content}, FinishReason: "stop"}},
		Usage:   &core.Usage{PromptTokens: total / 2, CompletionTokens: total - total/2, TotalTokens: total},
	}
}

func newTestProxy(t *testing.T, spy *completerSpy) (*CompletionProxy, *store.MemoryStore, *auditCapture) {
	t.Helper()
	users := store.NewMemoryStore()
	keys, err := keygen.New("sha256", "")
	if err != nil {
		t.Fatalf("keygen.New: %v", err)
	}
	audit := &auditCapture{}
	p := New(users, keys, spy, audit, Config{Model: "gpt-3.5-turbo"})
	return p, users, audit
}

// issueUser creates a record with an assigned key and the given counters.
func issueUser(t *testing.T, users *store.MemoryStore, used, authorized int64) string {
	t.Helper()
	ctx := context.Background()
	u, err := users.Create(ctx, &store.User{TokensUsed: used, TokensAuthorized: authorized})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	keys, _ := keygen.New("sha256", "")
	key := keys.Generate(u.Identity)
	if err := users.SetKey(ctx, u.Identity, key); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	return key
}

func TestIssueKeyNewIdentity(t *testing.T) {
	p, users, audit := newTestProxy(t, &completerSpy{})

	resp, err := p.IssueKey(context.Background())
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	if !regexp.MustCompile("^[0-9a-f]{64}$").MatchString(resp.Key) {
		t.Errorf("issued key is not 64 lowercase hex chars: %q", resp.Key)
	}

	u, err := users.FindByKey(context.Background(), resp.Key)
	if err != nil {
		t.Fatalf("issued key has no record: %v", err)
	}
	if u.TokensUsed != 0 || u.TokensAuthorized != DefaultQuota {
		t.Errorf("new record = {used:%d, authorized:%d}, want {0, %d}",
			u.TokensUsed, u.TokensAuthorized, DefaultQuota)
	}

	if e := audit.last(t); e.Operation != auditlog.OperationIssueKey || e.Outcome != auditlog.OutcomeOK {
		t.Errorf("audit entry = %s/%s", e.Operation, e.Outcome)
	}
}

func TestIssueKeyIdempotent(t *testing.T) {
	p, users, _ := newTestProxy(t, &completerSpy{})
	key := issueUser(t, users, 0, DefaultQuota)

	ctx := core.WithAccessKey(context.Background(), key)
	first, err := p.IssueKey(ctx)
	if err != nil {
		t.Fatalf("first IssueKey: %v", err)
	}
	second, err := p.IssueKey(ctx)
	if err != nil {
		t.Fatalf("second IssueKey: %v", err)
	}

	if first.Key != key || second.Key != key {
		t.Errorf("re-issuance changed the key: %q then %q, want %q", first.Key, second.Key, key)
	}
}

func TestAskSuccessChargesUsage(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("hi", 42)}
	p, users, audit := newTestProxy(t, spy)
	key := issueUser(t, users, 0, 500)

	ctx := core.WithAccessKey(context.Background(), key)
	msg, err := p.Ask(ctx, "hello")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if msg.Role != core.RoleAssistant || msg.Content != "hi" {
		t.Errorf("reply = %+v", msg)
	}

	u, _ := users.FindByKey(ctx, key)
	if u.TokensUsed != 42 {
		t.Errorf("tokens_used = %d, want 42", u.TokensUsed)
	}

	if spy.model != "gpt-3.5-turbo" {
		t.Errorf("upstream model = %q", spy.model)
	}
	if len(spy.history) != 1 || spy.history[0].Role != core.RoleUser || spy.history[0].Content != "hello" {
		t.Errorf("upstream history = %+v", spy.history)
	}

	e := audit.last(t)
	if e.Outcome != auditlog.OutcomeOK || e.TotalTokens != 42 || e.Anomaly != "" {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestAskUnknownKeyRejected(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("hi", 1)}
	p, _, _ := newTestProxy(t, spy)

	ctx := core.WithAccessKey(context.Background(), "no-such-key")
	_, err := p.Ask(ctx, "hello")

	var pe *core.ProxyError
	if !errors.As(err, &pe) || pe.Type != core.ErrorTypeUnknownKey {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if spy.callCount() != 0 {
		t.Error("upstream must not be called for an unknown key")
	}
}

func TestAskQuotaDenied(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("hi", 1)}
	p, users, audit := newTestProxy(t, spy)
	key := issueUser(t, users, 501, 500)

	ctx := core.WithAccessKey(context.Background(), key)
	_, err := p.Ask(ctx, "hello")

	var pe *core.ProxyError
	if !errors.As(err, &pe) || pe.Type != core.ErrorTypeQuotaExceeded {
		t.Fatalf("expected quota exceeded error, got %v", err)
	}
	if spy.callCount() != 0 {
		t.Error("upstream must not be called when quota is exceeded")
	}

	u, _ := users.FindByKey(ctx, key)
	if u.TokensUsed != 501 {
		t.Errorf("denied call changed usage to %d", u.TokensUsed)
	}

	if e := audit.last(t); e.Outcome != auditlog.OutcomeDenied {
		t.Errorf("audit outcome = %q, want denied", e.Outcome)
	}
}

func TestAskAtCeilingStillAdmitted(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("hi", 5)}
	p, users, _ := newTestProxy(t, spy)
	key := issueUser(t, users, 500, 500)

	ctx := core.WithAccessKey(context.Background(), key)
	if _, err := p.Ask(ctx, "hello"); err != nil {
		t.Fatalf("Ask at ceiling: %v", err)
	}
	if spy.callCount() != 1 {
		t.Error("call exactly at the ceiling must still reach upstream")
	}

	u, _ := users.FindByKey(ctx, key)
	if u.TokensUsed != 505 {
		t.Errorf("tokens_used = %d, want 505", u.TokensUsed)
	}
}

func TestAskUpstreamFailureLeavesUsageUnchanged(t *testing.T) {
	spy := &completerSpy{err: core.NewUpstreamError(500, "boom", nil)}
	p, users, audit := newTestProxy(t, spy)
	key := issueUser(t, users, 10, 500)

	ctx := core.WithAccessKey(context.Background(), key)
	_, err := p.Ask(ctx, "hello")

	var pe *core.ProxyError
	if !errors.As(err, &pe) || pe.Type != core.ErrorTypeUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}

	u, _ := users.FindByKey(ctx, key)
	if u.TokensUsed != 10 {
		t.Errorf("failed call changed usage to %d", u.TokensUsed)
	}

	if e := audit.last(t); e.Outcome != auditlog.OutcomeFailed {
		t.Errorf("audit outcome = %q, want failed", e.Outcome)
	}
}

func TestAskUsageMissingStillReturnsReply(t *testing.T) {
	resp := responseWithUsage("hi", 0)
	resp.Usage = nil
	spy := &completerSpy{resp: resp}
	p, users, audit := newTestProxy(t, spy)
	key := issueUser(t, users, 10, 500)

	ctx := core.WithAccessKey(context.Background(), key)
	msg, err := p.Ask(ctx, "hello")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if msg.Content != "hi" {
		t.Errorf("reply content = %q", msg.Content)
	}

	u, _ := users.FindByKey(ctx, key)
	if u.TokensUsed != 10 {
		t.Errorf("unaccountable call changed usage to %d", u.TokensUsed)
	}

	e := audit.last(t)
	if e.Outcome != auditlog.OutcomeOK || e.Anomaly != auditlog.AnomalyUsageMissing {
		t.Errorf("audit entry = outcome %q anomaly %q", e.Outcome, e.Anomaly)
	}
}

func TestContinueForwardsHistoryVerbatim(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("fine, thanks", 20)}
	p, users, _ := newTestProxy(t, spy)
	key := issueUser(t, users, 0, 500)

	history := []core.Message{
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
		{Role: core.RoleUser, Content: "how are you"},
	}

	ctx := core.WithAccessKey(context.Background(), key)
	if _, err := p.Continue(ctx, history); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	if len(spy.history) != len(history) {
		t.Fatalf("forwarded %d messages, want %d", len(spy.history), len(history))
	}
	for i := range history {
		if spy.history[i] != history[i] {
			t.Errorf("message %d = %+v, want %+v", i, spy.history[i], history[i])
		}
	}
}

func TestConcurrentAsksOnDifferentKeys(t *testing.T) {
	spy := &completerSpy{resp: responseWithUsage("hi", 7)}
	p, users, _ := newTestProxy(t, spy)

	keyA := issueUser(t, users, 0, 500)
	keyB := issueUser(t, users, 0, 500)

	const calls = 20
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		for _, key := range []string{keyA, keyB} {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				ctx := core.WithAccessKey(context.Background(), k)
				if _, err := p.Ask(ctx, "hello"); err != nil {
					t.Errorf("Ask(%s): %v", k[:8], err)
				}
			}(key)
		}
	}
	wg.Wait()

	for _, key := range []string{keyA, keyB} {
		u, _ := users.FindByKey(context.Background(), key)
		if u.TokensUsed != calls*7 {
			t.Errorf("tokens_used = %d, want %d", u.TokensUsed, calls*7)
		}
	}
}

func TestLogClient(t *testing.T) {
	p, _, audit := newTestProxy(t, &completerSpy{})

	p.LogClient(context.Background(), &core.ClientLog{
		Category: "ui",
		Level:    "error",
		Message:  "render failed",
	})

	if e := audit.last(t); e.Operation != auditlog.OperationClientLog {
		t.Errorf("audit operation = %q", e.Operation)
	}
}
