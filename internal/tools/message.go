package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
)

// OutboundPublisher is the slice of the message bus the message tool
// needs.
type OutboundPublisher interface {
	PublishOutbound(msg *bus.OutboundMessage)
}

type MessageInput struct {
	Content string `json:"content" jsonschema:"required,description=Message content to send"`
	Channel string `json:"channel,omitempty" jsonschema:"description=Target channel (optional; defaults to current channel)"`
	ChatID  string `json:"chat_id,omitempty" jsonschema:"description=Target chat/session id (optional; defaults to current chat)"`
}

type messageToolImpl struct {
	publisher OutboundPublisher
}

// resolveTarget picks the explicit channel/chat when given and falls
// back to the conversation the tool call originated from.
func resolveTarget(ctx context.Context, input *MessageInput) (channel, chatID, requestID string, err error) {
	meta := InvocationFromContext(ctx)

	channel = strings.TrimSpace(input.Channel)
	if channel == "" {
		channel = meta.Channel
	}
	chatID = strings.TrimSpace(input.ChatID)
	if chatID == "" {
		chatID = meta.ChatID
	}
	if channel == "" || chatID == "" {
		return "", "", "", fmt.Errorf("channel/chat_id is required when no invocation context is available")
	}

	requestID = meta.RequestID
	if requestID == "" {
		requestID = bus.NewRequestID()
	}
	return channel, chatID, requestID, nil
}

func (t *messageToolImpl) execute(ctx context.Context, input *MessageInput) (string, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	if t.publisher == nil {
		return "", fmt.Errorf("message publisher is not configured")
	}

	channel, chatID, requestID, err := resolveTarget(ctx, input)
	if err != nil {
		return "", err
	}

	t.publisher.PublishOutbound(&bus.OutboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		Content:   content,
		RequestID: requestID,
		Metadata: map[string]any{
			"via_tool": "message",
		},
	})

	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

// NewMessageTool creates a tool that sends a message through the message bus.
func NewMessageTool(publisher OutboundPublisher) (tool.InvokableTool, error) {
	impl := &messageToolImpl{publisher: publisher}
	return utils.InferTool(
		"message",
		"Send a direct message to a channel/chat. Defaults to the current conversation when channel/chat_id is omitted.",
		impl.execute,
	)
}
