package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/channel"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
)

var (
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

// ResolverFunc resolves a pending approval by nonce. It reports whether
// the resolution won; a second press on the same prompt loses.
type ResolverFunc func(nonce string, approved bool) bool

// Channel implements Telegram bot
type Channel struct {
	channel.BaseChannel
	cfg      *config.TelegramConfig
	bot      *tgbotapi.BotAPI
	resolver ResolverFunc
}

// New creates a Telegram channel
func New(cfg *config.TelegramConfig, msgBus *bus.MessageBus) *Channel {
	allowList := make(map[string]bool)
	for _, id := range cfg.AllowFrom {
		allowList[id] = true
	}
	return &Channel{
		BaseChannel: channel.BaseChannel{
			Bus:       msgBus,
			AllowList: allowList,
		},
		cfg: cfg,
	}
}

func (c *Channel) Name() string { return "telegram" }

// SetApprovalResolver wires the approve/deny buttons to the gate.
func (c *Channel) SetApprovalResolver(resolver ResolverFunc) {
	c.resolver = resolver
}

func (c *Channel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.bot = bot

	slog.Info("telegram bot connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				c.handleCallback(update.CallbackQuery)
				continue
			}
			if update.Message == nil {
				continue
			}
			c.handleMessage(update.Message)
		}
	}
}

func (c *Channel) handleMessage(msg *tgbotapi.Message) {
	senderID := fmt.Sprintf("%d", msg.From.ID)
	senderCompound := senderID
	if msg.From.UserName != "" {
		senderCompound = senderID + "|" + msg.From.UserName
	}

	if !c.IsAllowed(senderCompound) {
		slog.Debug("unauthorized sender", "id", senderID)
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	c.PublishInbound(&bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  senderID,
		ChatID:    fmt.Sprintf("%d", msg.Chat.ID),
		Content:   content,
		Timestamp: time.Now(),
		RequestID: bus.NewRequestID(),
		Metadata: map[string]any{
			"message_id": msg.MessageID,
			"username":   msg.From.UserName,
		},
	})
}

func (c *Channel) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil {
		return
	}

	senderID := fmt.Sprintf("%d", cq.From.ID)
	senderCompound := senderID
	if cq.From.UserName != "" {
		senderCompound = senderID + "|" + cq.From.UserName
	}
	if !c.IsAllowed(senderCompound) {
		slog.Debug("unauthorized approval press", "id", senderID)
		c.answerCallback(cq.ID, "Not authorized")
		return
	}

	nonce, approved, ok := parseApprovalCallback(cq.Data)
	if !ok {
		c.answerCallback(cq.ID, "")
		return
	}

	outcome := "Approved"
	if !approved {
		outcome = "Denied"
	}
	if c.resolver == nil || !c.resolver(nonce, approved) {
		outcome = "Already resolved or expired"
	}
	c.answerCallback(cq.ID, outcome)

	if c.bot != nil {
		edit := tgbotapi.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID,
			cq.Message.Text+"\n\n"+outcome+" by @"+cq.From.UserName)
		if _, err := c.bot.Send(edit); err != nil {
			slog.Debug("edit approval prompt failed", "error", err)
		}
	}
}

func (c *Channel) answerCallback(callbackID, text string) {
	if c.bot == nil {
		return
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		slog.Debug("answer callback failed", "error", err)
	}
}

// SendApproval posts an approval prompt with approve/deny buttons.
func (c *Channel) SendApproval(ctx context.Context, chatID string, req approval.Pending) error {
	if c.bot == nil {
		return fmt.Errorf("bot not initialized")
	}
	id, err := parseInt64(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	tgMsg := tgbotapi.NewMessage(id, formatApprovalPrompt(req))
	tgMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", "approve:"+req.Nonce),
			tgbotapi.NewInlineKeyboardButtonData("Deny", "deny:"+req.Nonce),
		),
	)
	if _, err := c.bot.Send(tgMsg); err != nil {
		return fmt.Errorf("send approval prompt: %w", err)
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("bot not initialized")
	}

	chatID, err := parseInt64(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	html := markdownToHTML(msg.Content)

	tgMsg := tgbotapi.NewMessage(chatID, html)
	tgMsg.ParseMode = "HTML"

	_, err = c.bot.Send(tgMsg)
	if err != nil {
		tgMsg.ParseMode = ""
		tgMsg.Text = msg.Content
		_, err = c.bot.Send(tgMsg)
	}
	return err
}

func (c *Channel) Stop(ctx context.Context) error {
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func parseApprovalCallback(data string) (nonce string, approved bool, ok bool) {
	switch {
	case strings.HasPrefix(data, "approve:"):
		nonce = strings.TrimPrefix(data, "approve:")
		approved = true
	case strings.HasPrefix(data, "deny:"):
		nonce = strings.TrimPrefix(data, "deny:")
	default:
		return "", false, false
	}
	if nonce == "" {
		return "", false, false
	}
	return nonce, approved, true
}

func formatApprovalPrompt(req approval.Pending) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required (%s)\n", req.Classification.Level)
	fmt.Fprintf(&b, "Tool: %s\n", req.ToolName)
	if args := strings.TrimSpace(req.ArgsJSON); args != "" && args != "{}" {
		fmt.Fprintf(&b, "Args: %s\n", args)
	}
	if req.Classification.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", req.Classification.Reason)
	}
	fmt.Fprintf(&b, "Nonce: %s", req.Nonce)
	return b.String()
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}
