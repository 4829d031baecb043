package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
)

func TestHandleMessage_PublishesInbound(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{}, msgBus)

	ch.handleMessage(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "m-1",
			ChannelID: "chan-1",
			Content:   "hello",
			Author:    &discordgo.User{ID: "123", Username: "alice"},
		},
	})

	select {
	case in := <-msgBus.Inbound():
		if in.Content != "hello" || in.SenderID != "123" || in.ChatID != "chan-1" {
			t.Fatalf("unexpected inbound: %+v", in)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestHandleMessage_BlocksUnlistedSender(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{AllowFrom: []string{"999"}}, msgBus)

	ch.handleMessage(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Content:   "hello",
			Author:    &discordgo.User{ID: "123"},
		},
	})

	select {
	case in := <-msgBus.Inbound():
		t.Fatalf("expected no inbound message, got %+v", in)
	default:
	}
}

func TestHandleMessage_AppendsAttachmentURLs(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{}, msgBus)

	ch.handleMessage(nil, &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Content:   "see this",
			Author:    &discordgo.User{ID: "123", Username: "alice"},
			Attachments: []*discordgo.MessageAttachment{
				{URL: "https://cdn.example.com/pic.png"},
			},
		},
	})

	select {
	case in := <-msgBus.Inbound():
		if !strings.Contains(in.Content, "[attachment: https://cdn.example.com/pic.png]") {
			t.Fatalf("expected attachment reference, got %q", in.Content)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestSend_NotRunning(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{}, msgBus)

	err := ch.Send(context.Background(), &bus.OutboundMessage{ChatID: "chan-1", Content: "x"})
	if err == nil {
		t.Fatal("expected error when channel is not running")
	}
}

func TestParseApprovalCustomID(t *testing.T) {
	tests := []struct {
		customID string
		nonce    string
		approved bool
		ok       bool
	}{
		{"approve:n-1", "n-1", true, true},
		{"deny:n-1", "n-1", false, true},
		{"deny:", "", false, false},
		{"other:n-1", "", false, false},
	}
	for _, tt := range tests {
		nonce, approved, ok := parseApprovalCustomID(tt.customID)
		if nonce != tt.nonce || approved != tt.approved || ok != tt.ok {
			t.Errorf("parseApprovalCustomID(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.customID, nonce, approved, ok, tt.nonce, tt.approved, tt.ok)
		}
	}
}

func TestHandleInteraction_ResolvesApproval(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{}, msgBus)

	var gotNonce string
	var gotApproved bool
	ch.SetApprovalResolver(func(nonce string, approved bool) bool {
		gotNonce = nonce
		gotApproved = approved
		return true
	})

	ch.handleInteraction(nil, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{CustomID: "deny:n-9"},
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "123", Username: "alice"},
			},
		},
	})

	if gotNonce != "n-9" || gotApproved {
		t.Fatalf("expected resolver called with (n-9, false), got (%q, %v)", gotNonce, gotApproved)
	}
}

func TestHandleInteraction_UnlistedSenderCannotResolve(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.DiscordConfig{AllowFrom: []string{"999"}}, msgBus)

	called := false
	ch.SetApprovalResolver(func(nonce string, approved bool) bool {
		called = true
		return true
	})

	ch.handleInteraction(nil, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{CustomID: "approve:n-9"},
			User: &discordgo.User{ID: "123"},
		},
	})

	if called {
		t.Fatal("expected unlisted sender to be ignored")
	}
}

func TestFormatApprovalPrompt(t *testing.T) {
	out := formatApprovalPrompt(approval.Pending{
		Nonce:    "n-2",
		ToolName: "write_file",
		ArgsJSON: `{"path":"package.json"}`,
		Classification: risk.Classification{
			Level:  risk.L2,
			Reason: "writes a protected file",
		},
	})

	for _, want := range []string{"write_file", "package.json", "protected file", "n-2", "L2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, out)
		}
	}
}
