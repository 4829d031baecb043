package telegram

import (
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
)

func TestMarkdownToHTML_RendersBoldAndCode(t *testing.T) {
	out := markdownToHTML("**b** `c`")
	if strings.Contains(out, "&lt;b&gt;") {
		t.Fatalf("expected bold tags to be real HTML, got: %s", out)
	}
	if !strings.Contains(out, "<b>b</b>") {
		t.Fatalf("expected bold to render, got: %s", out)
	}
	if !strings.Contains(out, "<code>c</code>") {
		t.Fatalf("expected code to render, got: %s", out)
	}
}

func TestParseInt64_Valid(t *testing.T) {
	got, err := parseInt64("12345")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != 12345 {
		t.Fatalf("expected 12345, got %d", got)
	}
}

func TestParseInt64_Invalid(t *testing.T) {
	if _, err := parseInt64("not-a-number"); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestHandleMessage_PublishesInbound(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.TelegramConfig{}, msgBus)

	ch.handleMessage(&tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 123, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "hello",
	})

	select {
	case in := <-msgBus.Inbound():
		if in.Content != "hello" || in.SenderID != "123" || in.ChatID != "42" {
			t.Fatalf("unexpected inbound: %+v", in)
		}
		if in.Metadata["username"] != "alice" {
			t.Fatalf("expected username metadata, got %+v", in.Metadata)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestHandleMessage_BlocksUnlistedSender(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.TelegramConfig{AllowFrom: []string{"999"}}, msgBus)

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 42},
		Text: "hello",
	})

	select {
	case in := <-msgBus.Inbound():
		t.Fatalf("expected no inbound message, got %+v", in)
	default:
	}
}

func TestHandleMessage_AllowsByUsername(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.TelegramConfig{AllowFrom: []string{"@alice"}}, msgBus)

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: 42},
		Text: "hi",
	})

	select {
	case <-msgBus.Inbound():
	default:
		t.Fatal("expected inbound message for allow-listed username")
	}
}

func TestParseApprovalCallback(t *testing.T) {
	tests := []struct {
		data     string
		nonce    string
		approved bool
		ok       bool
	}{
		{"approve:abc123", "abc123", true, true},
		{"deny:abc123", "abc123", false, true},
		{"approve:", "", false, false},
		{"something:abc", "", false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		nonce, approved, ok := parseApprovalCallback(tt.data)
		if nonce != tt.nonce || approved != tt.approved || ok != tt.ok {
			t.Errorf("parseApprovalCallback(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.data, nonce, approved, ok, tt.nonce, tt.approved, tt.ok)
		}
	}
}

func TestHandleCallback_ResolvesApproval(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.TelegramConfig{}, msgBus)

	var gotNonce string
	var gotApproved bool
	ch.SetApprovalResolver(func(nonce string, approved bool) bool {
		gotNonce = nonce
		gotApproved = approved
		return true
	})

	ch.handleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 123, UserName: "alice"},
		Data: "approve:nonce-7",
		Message: &tgbotapi.Message{
			MessageID: 5,
			Chat:      &tgbotapi.Chat{ID: 42},
			Text:      "Approval required",
		},
	})

	if gotNonce != "nonce-7" || !gotApproved {
		t.Fatalf("expected resolver called with (nonce-7, true), got (%q, %v)", gotNonce, gotApproved)
	}
}

func TestHandleCallback_UnlistedSenderCannotResolve(t *testing.T) {
	msgBus := bus.NewMessageBus(1)
	ch := New(&config.TelegramConfig{AllowFrom: []string{"999"}}, msgBus)

	called := false
	ch.SetApprovalResolver(func(nonce string, approved bool) bool {
		called = true
		return true
	})

	ch.handleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-2",
		From: &tgbotapi.User{ID: 123},
		Data: "deny:nonce-8",
		Message: &tgbotapi.Message{
			MessageID: 6,
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	})

	if called {
		t.Fatal("expected unlisted sender to be ignored")
	}
}

func TestFormatApprovalPrompt(t *testing.T) {
	out := formatApprovalPrompt(approval.Pending{
		Nonce:    "n-1",
		ToolName: "shell_exec",
		ArgsJSON: `{"command":"git push --force"}`,
		Classification: risk.Classification{
			Level:  risk.L3,
			Reason: "forced git push",
		},
		CreatedAt: time.Now(),
	})

	for _, want := range []string{"shell_exec", "git push --force", "forced git push", "n-1", "L3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, out)
		}
	}
}
