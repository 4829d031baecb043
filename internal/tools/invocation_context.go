package tools

import (
	"context"
	"strings"
)

type invocationContextKey struct{}

// InvocationContext carries caller metadata through tool execution so
// the guard can key decisions by request and attribute audit entries.
type InvocationContext struct {
	Channel   string
	ChatID    string
	SenderID  string
	RequestID string
	SessionID string
}

func (m InvocationContext) normalized() InvocationContext {
	m.Channel = strings.TrimSpace(m.Channel)
	m.ChatID = strings.TrimSpace(m.ChatID)
	m.SenderID = strings.TrimSpace(m.SenderID)
	m.RequestID = strings.TrimSpace(m.RequestID)
	m.SessionID = strings.TrimSpace(m.SessionID)
	return m
}

// WithInvocationContext stores invocation metadata in the context.
func WithInvocationContext(ctx context.Context, meta InvocationContext) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, meta)
}

// InvocationFromContext reads invocation metadata from the context. A
// context without metadata yields the zero value.
func InvocationFromContext(ctx context.Context) InvocationContext {
	meta, ok := ctx.Value(invocationContextKey{}).(InvocationContext)
	if !ok {
		return InvocationContext{}
	}
	return meta.normalized()
}
