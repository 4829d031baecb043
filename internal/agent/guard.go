package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/audit"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/state"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/tools"
)

// decision captures what the guard decided for one tool call, so the
// audit entry written after execution carries the classification and
// approval outcome alongside the result.
type decision struct {
	classification risk.Classification
	gated          bool
	nonce          string
	approved       bool
}

// governor wires the risk classifier, the approval gate and the audit
// log around tool execution. Tool calls at or above the threshold
// suspend until a human resolves the nonce or the TTL denies it.
type governor struct {
	classifier       *risk.Classifier
	gate             *approval.Gate
	auditLog         *audit.Log
	threshold        risk.Level
	approvalTTL      time.Duration
	useModelFallback bool
	state            *state.Manager

	mu        sync.Mutex
	notifier  approval.Notifier
	chatID    string
	decisions map[string]decision
}

func (l *Loop) configureGuard(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	threshold, err := risk.ParseLevel(cfg.Guard.Threshold)
	if err != nil {
		return fmt.Errorf("parse guard.threshold: %w", err)
	}

	ttl := 15 * time.Minute
	if raw := strings.TrimSpace(cfg.Guard.ApprovalTTL); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse guard.approval_ttl: %w", err)
		}
	}

	registry := risk.NewRegistry()
	registry.RegisterDefaults()

	var classifier *risk.Classifier
	if cfg.Guard.UseModelFallback {
		classifier = risk.NewClassifier(registry, l.model)
	} else {
		classifier = risk.NewClassifier(registry, nil)
	}

	mirror := approval.NewStore(l.workspacePath)

	l.governor = &governor{
		classifier:       classifier,
		gate:             approval.NewGate(mirror),
		auditLog:         audit.NewLog(cfg.AuditDir()),
		threshold:        threshold,
		approvalTTL:      ttl,
		useModelFallback: cfg.Guard.UseModelFallback,
		state:            l.state,
		chatID:           strings.TrimSpace(cfg.Guard.OperatorChatID),
		decisions:        make(map[string]decision),
	}
	l.tools.SetGuard(l.evaluateToolGuard)
	return nil
}

// Gate exposes the approval gate so channels and the gateway can
// resolve nonces.
func (l *Loop) Gate() *approval.Gate {
	if l.governor == nil {
		return nil
	}
	return l.governor.gate
}

// AuditLog exposes the audit log for the gateway verify endpoint.
func (l *Loop) AuditLog() *audit.Log {
	if l.governor == nil {
		return nil
	}
	return l.governor.auditLog
}

// SetApprovalNotifier attaches the channel that receives approval
// prompts. Without one, pending approvals are only visible through the
// gateway and CLI.
func (l *Loop) SetApprovalNotifier(n approval.Notifier) {
	if l.governor == nil {
		return
	}
	l.governor.mu.Lock()
	l.governor.notifier = n
	l.governor.mu.Unlock()
}

// Shutdown denies every pending approval so no future is left hanging.
func (l *Loop) Shutdown(reason string) {
	if l.governor == nil {
		return
	}
	l.governor.gate.RejectAllPending(reason)
}

func (l *Loop) evaluateToolGuard(ctx context.Context, name, argsJSON string) (tools.GuardResult, error) {
	g := l.governor
	if g == nil {
		return tools.GuardResult{Action: tools.GuardAllow}, nil
	}

	cls := g.classify(ctx, name, argsJSON)
	meta := tools.InvocationFromContext(ctx)

	if cls.Level < g.threshold {
		g.storeDecision(decisionKey(name, argsJSON, meta.RequestID), decision{
			classification: cls,
			approved:       true,
		})
		return tools.GuardResult{Action: tools.GuardAllow}, nil
	}

	nonce, future, err := g.gate.Create(name, normalizeArgsJSON(argsJSON), cls)
	if err != nil {
		return tools.GuardResult{}, fmt.Errorf("create approval: %w", err)
	}
	stop := g.gate.ScheduleTimeout(nonce, g.approvalTTL)
	defer stop()

	g.notifyOperator(ctx, nonce, name, argsJSON, cls)

	slog.Info("tool call awaiting approval",
		"request_id", meta.RequestID,
		"tool", name,
		"risk", cls.Level.String(),
		"nonce", nonce,
	)

	var approved bool
	select {
	case approved = <-future:
	case <-ctx.Done():
		g.gate.Resolve(nonce, false)
		// Drain so a concurrent resolution does not leak.
		approved = <-future
	}

	g.storeDecision(decisionKey(name, argsJSON, meta.RequestID), decision{
		classification: cls,
		gated:          true,
		nonce:          nonce,
		approved:       approved,
	})

	if !approved {
		msg := fmt.Sprintf("denied or timed out (approval %s, risk %s: %s)", nonce, cls.Level, cls.Reason)
		return tools.GuardResult{Action: tools.GuardDeny, Message: msg}, nil
	}
	slog.Info("tool call approved", "request_id", meta.RequestID, "tool", name, "nonce", nonce)
	return tools.GuardResult{Action: tools.GuardAllow}, nil
}

// classify runs the deterministic rules first and falls back to the
// model when allowed. An inconclusive result is treated as L2 so an
// unknown action always needs a human.
func (g *governor) classify(ctx context.Context, name, argsJSON string) risk.Classification {
	args := risk.ParseArgs(argsJSON)

	if !g.useModelFallback {
		if cls := g.classifier.ClassifyDeterministic(name, args); cls != nil {
			return *cls
		}
		return ambiguousClassification()
	}

	cls, err := g.classifier.Classify(ctx, name, args)
	if err != nil {
		slog.Warn("model classification failed", "tool", name, "error", err)
		return ambiguousClassification()
	}
	if cls == nil {
		return ambiguousClassification()
	}
	return *cls
}

func ambiguousClassification() risk.Classification {
	return risk.Classification{
		Level:  risk.L2,
		Reason: "classification inconclusive, requires review",
	}
}

func (g *governor) notifyOperator(ctx context.Context, nonce, name, argsJSON string, cls risk.Classification) {
	g.mu.Lock()
	notifier := g.notifier
	chatID := g.chatID
	g.mu.Unlock()

	if notifier == nil {
		slog.Warn("no approval notifier configured; resolve via gateway or CLI", "nonce", nonce)
		return
	}

	// No configured operator chat: fall back to wherever the operator
	// last spoke.
	if chatID == "" && g.state != nil {
		if active, err := g.state.LoadActiveChat(); err == nil {
			chatID = active.ChatID
		}
	}
	if chatID == "" {
		slog.Warn("no operator chat known; resolve via gateway or CLI", "nonce", nonce)
		return
	}

	req := approval.Pending{
		Nonce:          nonce,
		ToolName:       name,
		ArgsJSON:       normalizeArgsJSON(argsJSON),
		Classification: cls,
		CreatedAt:      time.Now().UTC(),
	}
	if err := notifier.SendApproval(ctx, chatID, req); err != nil {
		slog.Warn("send approval prompt failed", "nonce", nonce, "error", err)
	}
}

func (g *governor) storeDecision(key string, d decision) {
	g.mu.Lock()
	g.decisions[key] = d
	g.mu.Unlock()
}

func (g *governor) takeDecision(key string) (decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.decisions[key]
	if ok {
		delete(g.decisions, key)
	}
	return d, ok
}

// auditToolExecution appends the audit entry for a finished tool call.
// A failed append is returned to the caller, which must treat the
// action as denied.
func (l *Loop) auditToolExecution(ctx context.Context, name, argsJSON, result string, execErr error) error {
	g := l.governor
	if g == nil {
		return nil
	}

	meta := tools.InvocationFromContext(ctx)
	d, ok := g.takeDecision(decisionKey(name, argsJSON, meta.RequestID))
	if !ok {
		d = decision{classification: ambiguousClassification(), approved: execErr == nil}
	}

	action := "tool_call"
	if d.gated {
		action = "tool_call nonce=" + d.nonce
	}

	outcome := strings.TrimSpace(result)
	if execErr != nil {
		outcome = "error: " + execErr.Error()
	}
	if outcome == "" {
		outcome = "no output"
	}

	userID := meta.SenderID
	if userID == "" {
		userID = "operator"
	}

	entry := audit.NewEntry(
		l.nowUTC(),
		action,
		name,
		normalizeArgsJSON(argsJSON),
		d.classification.Level.String(),
		d.approved,
		truncateResult(outcome),
		userID,
	)
	if err := g.auditLog.Append(entry); err != nil {
		slog.Error("audit append failed", "tool", name, "error", err)
		return err
	}
	return nil
}

func (l *Loop) nowUTC() time.Time {
	if l.now != nil {
		return l.now().UTC()
	}
	return time.Now().UTC()
}

func decisionKey(name, argsJSON, requestID string) string {
	return requestID + "|" + name + "|" + normalizeArgsJSON(argsJSON)
}

func normalizeArgsJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return trimmed
	}
	return buf.String()
}

// truncateResult keeps audit lines bounded; full tool output can be huge.
func truncateResult(s string) string {
	const maxLen = 2000
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
