package bus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// InboundMessage received from a channel
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
	RequestID string
}

// SessionKey returns unique session identifier
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage to send to a channel
type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	ReplyTo   string
	Metadata  map[string]any
	RequestID string
}

// MessageBus connects channels to the agent loop with buffered queues.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
}

// NewMessageBus creates a bus with the given queue capacity.
func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &MessageBus{
		inbound:  make(chan *InboundMessage, capacity),
		outbound: make(chan *OutboundMessage, capacity),
	}
}

// PublishInbound queues a message from a channel for the agent loop.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg == nil {
		return
	}
	b.inbound <- msg
}

// PublishOutbound queues a message for delivery to a channel.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	if msg == nil {
		return
	}
	b.outbound <- msg
}

// Inbound returns the channel the agent loop consumes.
func (b *MessageBus) Inbound() <-chan *InboundMessage {
	return b.inbound
}

// Outbound returns the channel the channel manager consumes.
func (b *MessageBus) Outbound() <-chan *OutboundMessage {
	return b.outbound
}

// NewRequestID creates a request id for tracing.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext reads request id from context.
func RequestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDContextKey{})
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
