package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/channel"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
)

// ResolverFunc resolves a pending approval by nonce. It reports whether
// the resolution won.
type ResolverFunc func(nonce string, approved bool) bool

// Channel implements Discord bot channel.
type Channel struct {
	channel.BaseChannel
	cfg      *config.DiscordConfig
	session  *discordgo.Session
	resolver ResolverFunc
	mu       sync.RWMutex
	running  bool
}

// New creates a Discord channel.
func New(cfg *config.DiscordConfig, msgBus *bus.MessageBus) *Channel {
	allowList := make(map[string]bool)
	for _, id := range cfg.AllowFrom {
		allowList[id] = true
	}
	return &Channel{
		BaseChannel: channel.BaseChannel{Bus: msgBus, AllowList: allowList},
		cfg:         cfg,
	}
}

func (c *Channel) Name() string { return "discord" }

// SetApprovalResolver wires the approve/deny buttons to the gate.
func (c *Channel) SetApprovalResolver(resolver ResolverFunc) {
	c.resolver = resolver
}

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing discord config")
	}
	if strings.TrimSpace(c.cfg.Token) == "" {
		return fmt.Errorf("discord token is empty")
	}

	s, err := discordgo.New("Bot " + strings.TrimSpace(c.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	s.AddHandler(c.handleMessage)
	s.AddHandler(c.handleInteraction)

	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.mu.Lock()
	c.session = s
	c.running = true
	c.mu.Unlock()

	if me, err := s.User("@me"); err == nil {
		slog.Info("discord bot connected", "username", me.Username, "id", me.ID)
	}
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.running = false
	c.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.RLock()
	s := c.session
	running := c.running
	c.mu.RUnlock()
	if !running || s == nil {
		return fmt.Errorf("discord channel not running")
	}
	if strings.TrimSpace(msg.ChatID) == "" {
		return fmt.Errorf("discord chat id is empty")
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.ChannelMessageSend(msg.ChatID, msg.Content)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	}
}

// SendApproval posts an approval prompt with approve/deny buttons.
func (c *Channel) SendApproval(ctx context.Context, chatID string, req approval.Pending) error {
	c.mu.RLock()
	s := c.session
	running := c.running
	c.mu.RUnlock()
	if !running || s == nil {
		return fmt.Errorf("discord channel not running")
	}
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("discord chat id is empty")
	}

	_, err := s.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: formatApprovalPrompt(req),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Approve",
						Style:    discordgo.SuccessButton,
						CustomID: "approve:" + req.Nonce,
					},
					discordgo.Button{
						Label:    "Deny",
						Style:    discordgo.DangerButton,
						CustomID: "deny:" + req.Nonce,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send approval prompt: %w", err)
	}
	return nil
}

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if s != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	senderID := m.Author.ID
	senderCompound := senderID
	if m.Author.Username != "" {
		senderCompound = senderID + "|" + m.Author.Username
	}
	if !c.IsAllowed(senderCompound) {
		return
	}

	content := strings.TrimSpace(m.Content)
	for _, att := range m.Attachments {
		if att == nil || att.URL == "" {
			continue
		}
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	c.PublishInbound(&bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    m.ChannelID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id": m.ID,
			"username":   m.Author.Username,
			"guild_id":   m.GuildID,
			"channel_id": m.ChannelID,
		},
		RequestID: bus.NewRequestID(),
	})
}

func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	user := interactionUser(i)
	if user == nil {
		return
	}
	senderCompound := user.ID
	if user.Username != "" {
		senderCompound = user.ID + "|" + user.Username
	}
	if !c.IsAllowed(senderCompound) {
		slog.Debug("unauthorized approval press", "id", user.ID)
		return
	}

	nonce, approved, ok := parseApprovalCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	outcome := "Approved"
	if !approved {
		outcome = "Denied"
	}
	if c.resolver == nil || !c.resolver(nonce, approved) {
		outcome = "Already resolved or expired"
	}

	if s != nil {
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: outcome + " by " + user.Username,
			},
		})
		if err != nil {
			slog.Debug("interaction respond failed", "error", err)
		}
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func parseApprovalCustomID(customID string) (nonce string, approved bool, ok bool) {
	switch {
	case strings.HasPrefix(customID, "approve:"):
		nonce = strings.TrimPrefix(customID, "approve:")
		approved = true
	case strings.HasPrefix(customID, "deny:"):
		nonce = strings.TrimPrefix(customID, "deny:")
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
	fmt.Fprintf(&b, "**Approval required** (%s)\n", req.Classification.Level)
	fmt.Fprintf(&b, "Tool: `%s`\n", req.ToolName)
	if args := strings.TrimSpace(req.ArgsJSON); args != "" && args != "{}" {
		fmt.Fprintf(&b, "Args: `%s`\n", args)
	}
	if req.Classification.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", req.Classification.Reason)
	}
	fmt.Fprintf(&b, "Nonce: %s", req.Nonce)
	return b.String()
}
