// Package proxy orchestrates metered completion calls: resolve the caller's
// quota record, admit or deny, forward to the upstream provider and charge
// the reported usage back against the record.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatproxy/internal/auditlog"
	"chatproxy/internal/core"
	"chatproxy/internal/keygen"
	"chatproxy/internal/quota"
	"chatproxy/internal/store"
)

// DefaultQuota is the token ceiling granted to a newly issued key.
const DefaultQuota = 500

// Completer is the upstream call surface consumed by the proxy.
type Completer interface {
	Complete(ctx context.Context, model string, history []core.Message) (*core.ChatResponse, error)
}

// Config holds the proxy's operating parameters.
type Config struct {
	// Model is the upstream model every call targets.
	Model string

	// DefaultQuota is the token ceiling for newly created records.
	// Zero means DefaultQuota.
	DefaultQuota int64
}

// CompletionProxy implements key issuance and quota-enforced forwarding.
type CompletionProxy struct {
	users        store.UserStore
	keys         *keygen.Generator
	client       Completer
	audit        auditlog.LoggerInterface
	model        string
	defaultQuota int64
}

// New creates a CompletionProxy. A nil audit logger disables auditing.
func New(users store.UserStore, keys *keygen.Generator, client Completer, audit auditlog.LoggerInterface, cfg Config) *CompletionProxy {
	if cfg.DefaultQuota <= 0 {
		cfg.DefaultQuota = DefaultQuota
	}
	if audit == nil {
		audit = &auditlog.NoopLogger{}
	}
	return &CompletionProxy{
		users:        users,
		keys:         keys,
		client:       client,
		audit:        audit,
		model:        cfg.Model,
		defaultQuota: cfg.DefaultQuota,
	}
}

// IssueKey returns the access key for the identity carried in the request
// context. If the presented key already has a record, the existing key is
// returned unchanged; issuance is idempotent. Otherwise a fresh record is
// created with a zeroed counter and the default ceiling, a key is derived
// for it and persisted, and that key is returned.
func (p *CompletionProxy) IssueKey(ctx context.Context) (*core.KeyResponse, error) {
	start := time.Now()
	presented := core.GetAccessKey(ctx)

	if presented != "" {
		existing, err := p.users.FindByKey(ctx, presented)
		if err == nil {
			p.writeAudit(ctx, auditlog.OperationIssueKey, nil, auditlog.OutcomeOK, "", start)
			return &core.KeyResponse{Key: existing.Key}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			p.writeAudit(ctx, auditlog.OperationIssueKey, nil, auditlog.OutcomeFailed, "", start)
			return nil, err
		}
	}

	user, err := p.users.Create(ctx, &store.User{
		TokensUsed:       0,
		TokensAuthorized: p.defaultQuota,
	})
	if err != nil {
		p.writeAudit(ctx, auditlog.OperationIssueKey, nil, auditlog.OutcomeFailed, "", start)
		return nil, err
	}

	key := p.keys.Generate(user.Identity)
	if err := p.users.SetKey(ctx, user.Identity, key); err != nil {
		p.writeAudit(ctx, auditlog.OperationIssueKey, nil, auditlog.OutcomeFailed, "", start)
		return nil, err
	}

	keysIssued.Inc()
	slog.Info("issued access key",
		"identity", user.Identity,
		"key_hash", auditlog.HashKey(key),
		"quota", p.defaultQuota,
	)
	p.writeAudit(ctx, auditlog.OperationIssueKey, nil, auditlog.OutcomeOK, "", start)
	return &core.KeyResponse{Key: key}, nil
}

// Ask forwards a single user message and returns the assistant's reply.
func (p *CompletionProxy) Ask(ctx context.Context, content string) (*core.Message, error) {
	return p.complete(ctx, auditlog.OperationAsk,
		[]core.Message{{Role: core.RoleUser, Content: content}})
}

// Continue forwards a full ordered conversation history and returns the
// assistant's next reply. The proxy keeps no conversation state; the
// history is forwarded verbatim, order preserved.
func (p *CompletionProxy) Continue(ctx context.Context, history []core.Message) (*core.Message, error) {
	return p.complete(ctx, auditlog.OperationContinue, history)
}

// complete runs one call through the full pipeline: resolve the quota record
// for the presented key, check the gate, call upstream, charge the reported
// usage, and translate the first choice back.
func (p *CompletionProxy) complete(ctx context.Context, operation string, history []core.Message) (*core.Message, error) {
	start := time.Now()
	key := core.GetAccessKey(ctx)

	user, err := p.users.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			completionsTotal.WithLabelValues(operation, "rejected").Inc()
			p.writeAudit(ctx, operation, nil, auditlog.OutcomeFailed, "", start)
			return nil, core.NewUnknownKeyError(err)
		}
		completionsTotal.WithLabelValues(operation, "failed").Inc()
		p.writeAudit(ctx, operation, nil, auditlog.OutcomeFailed, "", start)
		return nil, err
	}

	if !quota.Admit(user) {
		slog.Info("quota exceeded, denying call",
			"request_id", core.GetRequestID(ctx),
			"key_hash", auditlog.HashKey(key),
			"used", user.TokensUsed,
			"authorized", user.TokensAuthorized,
		)
		completionsTotal.WithLabelValues(operation, "denied").Inc()
		p.writeAudit(ctx, operation, nil, auditlog.OutcomeDenied, "", start)
		return nil, core.NewQuotaExceededError(user.TokensUsed, user.TokensAuthorized)
	}

	resp, err := p.client.Complete(ctx, p.model, history)
	if err != nil {
		completionsTotal.WithLabelValues(operation, "failed").Inc()
		p.writeAudit(ctx, operation, nil, auditlog.OutcomeFailed, "", start)
		return nil, err
	}

	anomaly := ""
	if resp.Usage == nil {
		// The call succeeded but cannot be charged. Surface the anomaly
		// everywhere an operator might look, then return the reply anyway.
		slog.Warn("upstream response has no usage block, skipping accounting",
			"request_id", core.GetRequestID(ctx),
			"key_hash", auditlog.HashKey(key),
			"provider_id", resp.ID,
		)
		usageMissingTotal.Inc()
		anomaly = auditlog.AnomalyUsageMissing
	} else if resp.Usage.TotalTokens > 0 {
		updated, err := p.users.AddUsage(ctx, key, int64(resp.Usage.TotalTokens))
		if err != nil {
			// The reply is already in hand; losing it over an accounting
			// write would charge the user nothing and give them nothing.
			slog.Error("failed to record usage",
				"request_id", core.GetRequestID(ctx),
				"key_hash", auditlog.HashKey(key),
				"tokens", resp.Usage.TotalTokens,
				"error", err,
			)
		} else {
			tokensConsumed.Add(float64(resp.Usage.TotalTokens))
			slog.Debug("usage recorded",
				"key_hash", auditlog.HashKey(key),
				"tokens", resp.Usage.TotalTokens,
				"used", updated.TokensUsed,
				"authorized", updated.TokensAuthorized,
			)
		}
	}

	completionsTotal.WithLabelValues(operation, "ok").Inc()
	p.writeAudit(ctx, operation, resp.Usage, auditlog.OutcomeOK, anomaly, start)

	reply := resp.Choices[0].Message
	return &reply, nil
}

// LogClient records a log line pushed by a frontend client.
func (p *CompletionProxy) LogClient(ctx context.Context, entry *core.ClientLog) {
	slog.Info("client log",
		"request_id", core.GetRequestID(ctx),
		"key_hash", auditlog.HashKey(core.GetAccessKey(ctx)),
		"category", entry.Category,
		"level", entry.Level,
		"source", entry.Source,
		"message", entry.Message,
	)
	p.writeAudit(ctx, auditlog.OperationClientLog, nil, auditlog.OutcomeOK, "", time.Now())
}

// writeAudit queues one audit ledger entry for the finished operation.
func (p *CompletionProxy) writeAudit(ctx context.Context, operation string, usage *core.Usage, outcome, anomaly string, start time.Time) {
	entry := &auditlog.Entry{
		ID:         uuid.NewString(),
		RequestID:  core.GetRequestID(ctx),
		KeyHash:    auditlog.HashKey(core.GetAccessKey(ctx)),
		Operation:  operation,
		Model:      p.model,
		Outcome:    outcome,
		Anomaly:    anomaly,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now(),
	}
	if usage != nil {
		entry.PromptTokens = int64(usage.PromptTokens)
		entry.CompletionTokens = int64(usage.CompletionTokens)
		entry.TotalTokens = int64(usage.TotalTokens)
	}
	p.audit.Write(entry)
}
