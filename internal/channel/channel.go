package channel

import (
	"context"
	"strings"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
)

// Channel interface for chat platforms
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	IsAllowed(senderID string) bool
}

// BaseChannel provides common functionality
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowList map[string]bool
}

// IsAllowed checks if sender is permitted. An empty allow list permits
// everyone. Sender ids may be compound "id|username" strings; either
// part matches, and allow-list entries may carry an "@" prefix.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowList) == 0 {
		return true
	}

	candidates := []string{senderID}
	if idx := strings.Index(senderID, "|"); idx > 0 {
		candidates = append(candidates, senderID[:idx])
		if user := senderID[idx+1:]; user != "" {
			candidates = append(candidates, user)
		}
	}

	for allowed := range b.AllowList {
		normalized := strings.TrimSpace(allowed)
		trimmed := strings.TrimPrefix(normalized, "@")
		for _, c := range candidates {
			if normalized == c || trimmed == c {
				return true
			}
		}
	}
	return false
}

// PublishInbound sends message to bus
func (b *BaseChannel) PublishInbound(msg *bus.InboundMessage) {
	b.Bus.PublishInbound(msg)
}
