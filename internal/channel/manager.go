package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/metrics"
)

// DeliveryPolicy controls outbound send behavior per manager.
type DeliveryPolicy struct {
	MaxConcurrentSends int
	RetryMaxAttempts   int
	RetryBaseBackoff   time.Duration
	RetryMaxBackoff    time.Duration
	// RateLimitPerSecond caps sends per channel; 0 disables the limit.
	RateLimitPerSecond int
	// DedupWindow suppresses re-delivery of the same request id to the
	// same chat within the window; 0 disables deduplication.
	DedupWindow time.Duration
}

// DefaultDeliveryPolicy is used by NewManager.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxConcurrentSends: 16,
		RetryMaxAttempts:   3,
		RetryBaseBackoff:   200 * time.Millisecond,
		RetryMaxBackoff:    2 * time.Second,
		RateLimitPerSecond: 0,
		DedupWindow:        30 * time.Second,
	}
}

// Manager coordinates all channels
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	policy   DeliveryPolicy
	sendSem  chan struct{}
	metrics  *metrics.Recorder
	mu       sync.RWMutex

	dedupMu  sync.Mutex
	dedup    map[string]time.Time
	nextSend map[string]time.Time
}

// NewManager creates a channel manager with the default delivery policy.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return NewManagerWithPolicy(msgBus, DefaultDeliveryPolicy())
}

// NewManagerWithLimit creates a channel manager with bounded outbound send concurrency.
func NewManagerWithLimit(msgBus *bus.MessageBus, maxConcurrentSends int) *Manager {
	policy := DefaultDeliveryPolicy()
	policy.MaxConcurrentSends = maxConcurrentSends
	return NewManagerWithPolicy(msgBus, policy)
}

// NewManagerWithPolicy creates a channel manager with an explicit delivery policy.
func NewManagerWithPolicy(msgBus *bus.MessageBus, policy DeliveryPolicy) *Manager {
	if policy.MaxConcurrentSends <= 0 {
		policy.MaxConcurrentSends = 1
	}
	if policy.RetryMaxAttempts <= 0 {
		policy.RetryMaxAttempts = 1
	}
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		policy:   policy,
		sendSem:  make(chan struct{}, policy.MaxConcurrentSends),
		dedup:    make(map[string]time.Time),
		nextSend: make(map[string]time.Time),
	}
}

// SetMetrics attaches a recorder; every delivery attempt is counted.
func (m *Manager) SetMetrics(rec *metrics.Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = rec
}

func (m *Manager) recordSend(success bool) {
	m.mu.RLock()
	rec := m.metrics
	m.mu.RUnlock()
	if _, err := rec.RecordSend(success); err != nil {
		slog.Debug("record send metrics failed", "error", err)
	}
}

// Register adds a channel
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns registered channel names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts all channels
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		go func(n string, c Channel) {
			slog.Info("starting channel", "name", n)
			if err := c.Start(ctx); err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, ch)
	}
}

// RouteOutbound sends outbound messages to appropriate channels
func (m *Manager) RouteOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.bus.Outbound():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			m.mu.RLock()
			ch, found := m.channels[msg.Channel]
			m.mu.RUnlock()
			if !found {
				slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
				continue
			}

			select {
			case m.sendSem <- struct{}{}:
				go func(c Channel, outbound *bus.OutboundMessage) {
					defer func() { <-m.sendSem }()
					m.deliver(ctx, c, outbound)
				}(ch, msg)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) deliver(ctx context.Context, c Channel, msg *bus.OutboundMessage) {
	key := dedupKey(msg)
	if key != "" && !m.tryReserveDedup(key) {
		slog.Debug("suppressed duplicate outbound", "request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	var err error
	for attempt := 1; attempt <= m.policy.RetryMaxAttempts; attempt++ {
		if delay := m.reserveSendSlot(msg.Channel); delay > 0 {
			if !sleepCtx(ctx, delay) {
				m.releaseDedup(key)
				return
			}
		}

		err = c.Send(ctx, msg)
		m.recordSend(err == nil)
		if err == nil {
			return
		}

		if attempt < m.policy.RetryMaxAttempts {
			backoff := m.policy.RetryBaseBackoff << (attempt - 1)
			if m.policy.RetryMaxBackoff > 0 && backoff > m.policy.RetryMaxBackoff {
				backoff = m.policy.RetryMaxBackoff
			}
			slog.Warn("send outbound failed, retrying",
				"request_id", msg.RequestID,
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"attempt", attempt,
				"error", err,
			)
			if !sleepCtx(ctx, backoff) {
				m.releaseDedup(key)
				return
			}
		}
	}

	// A failed delivery must not block a later publish of the same
	// request id.
	m.releaseDedup(key)
	slog.Error("send outbound failed", "request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
}

// StopAll stops all channels
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		_ = ch.Stop(ctx)
	}
}

func dedupKey(msg *bus.OutboundMessage) string {
	if msg.RequestID == "" {
		return ""
	}
	return msg.RequestID + "|" + msg.Channel + "|" + msg.ChatID
}

func (m *Manager) tryReserveDedup(key string) bool {
	if m.policy.DedupWindow <= 0 {
		return true
	}
	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()

	now := time.Now()
	for k, at := range m.dedup {
		if now.Sub(at) > m.policy.DedupWindow {
			delete(m.dedup, k)
		}
	}
	if _, seen := m.dedup[key]; seen {
		return false
	}
	m.dedup[key] = now
	return true
}

func (m *Manager) releaseDedup(key string) {
	if key == "" || m.policy.DedupWindow <= 0 {
		return
	}
	m.dedupMu.Lock()
	delete(m.dedup, key)
	m.dedupMu.Unlock()
}

// reserveSendSlot returns how long the caller must wait to respect the
// per-channel rate limit.
func (m *Manager) reserveSendSlot(channelName string) time.Duration {
	if m.policy.RateLimitPerSecond <= 0 {
		return 0
	}
	interval := time.Second / time.Duration(m.policy.RateLimitPerSecond)

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()

	now := time.Now()
	next := m.nextSend[channelName]
	if next.Before(now) {
		next = now
	}
	m.nextSend[channelName] = next.Add(interval)
	return next.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
