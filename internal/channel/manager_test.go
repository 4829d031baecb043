package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
)

type recordingChannel struct {
	BaseChannel
	name string

	mu       sync.Mutex
	sent     []*bus.OutboundMessage
	sentAt   []time.Time
	failures int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (r *recordingChannel) Name() string                    { return r.name }
func (r *recordingChannel) Start(ctx context.Context) error { return nil }
func (r *recordingChannel) Stop(ctx context.Context) error  { return nil }

func (r *recordingChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		max := r.maxInFlight.Load()
		if cur <= max || r.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("transient send failure")
	}
	r.sent = append(r.sent, msg)
	r.sentAt = append(r.sentAt, time.Now())
	return nil
}

func (r *recordingChannel) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func waitForSent(t *testing.T, ch *recordingChannel, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.sentCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sent messages, got %d", want, ch.sentCount())
}

func TestManager_RouteOutbound(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	mgr := NewManager(msgBus)
	ch := &recordingChannel{name: "mock"}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "hello"})
	waitForSent(t, ch, 1)

	ch.mu.Lock()
	got := ch.sent[0].Content
	ch.mu.Unlock()
	if got != "hello" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestManager_RouteOutbound_UnknownChannelDropped(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	mgr := NewManager(msgBus)
	ch := &recordingChannel{name: "mock"}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "nope", ChatID: "c1", Content: "lost"})
	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "kept"})
	waitForSent(t, ch, 1)

	if ch.sentCount() != 1 {
		t.Fatalf("expected only the routed message, got %d", ch.sentCount())
	}
}

func TestManager_RouteOutbound_LimitsConcurrency(t *testing.T) {
	msgBus := bus.NewMessageBus(16)
	mgr := NewManagerWithLimit(msgBus, 2)
	ch := &recordingChannel{name: "mock", delay: 30 * time.Millisecond}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	for i := 0; i < 8; i++ {
		msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "m"})
	}
	waitForSent(t, ch, 8)

	if max := ch.maxInFlight.Load(); max > 2 {
		t.Fatalf("expected at most 2 concurrent sends, saw %d", max)
	}
}

func TestManager_RouteOutbound_RetriesTransientFailures(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	policy := DefaultDeliveryPolicy()
	policy.RetryBaseBackoff = 5 * time.Millisecond
	policy.RetryMaxBackoff = 20 * time.Millisecond
	mgr := NewManagerWithPolicy(msgBus, policy)
	ch := &recordingChannel{name: "mock", failures: 2}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "retry me", RequestID: "r1"})
	waitForSent(t, ch, 1)
}

func TestManager_RouteOutbound_DeduplicatesRequestID(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	mgr := NewManager(msgBus)
	ch := &recordingChannel{name: "mock"}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msg := &bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "once", RequestID: "dup-1"}
	msgBus.PublishOutbound(msg)
	msgBus.PublishOutbound(msg)
	waitForSent(t, ch, 1)

	time.Sleep(50 * time.Millisecond)
	if ch.sentCount() != 1 {
		t.Fatalf("expected deduplicated delivery, got %d sends", ch.sentCount())
	}
}

func TestManager_RouteOutbound_AppliesRateLimit(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	policy := DefaultDeliveryPolicy()
	policy.RateLimitPerSecond = 10
	policy.MaxConcurrentSends = 1
	mgr := NewManagerWithPolicy(msgBus, policy)
	ch := &recordingChannel{name: "mock"}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "a", RequestID: "rl-1"})
	msgBus.PublishOutbound(&bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "b", RequestID: "rl-2"})
	waitForSent(t, ch, 2)

	ch.mu.Lock()
	gap := ch.sentAt[1].Sub(ch.sentAt[0])
	ch.mu.Unlock()
	if gap < 50*time.Millisecond {
		t.Fatalf("expected rate-limited spacing, got %v", gap)
	}
}

func TestManager_RouteOutbound_DedupDoesNotBlockRetryAfterFailure(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	policy := DefaultDeliveryPolicy()
	policy.RetryMaxAttempts = 1
	mgr := NewManagerWithPolicy(msgBus, policy)
	ch := &recordingChannel{name: "mock", failures: 1}
	mgr.Register(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.RouteOutbound(ctx)

	msg := &bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "try again", RequestID: "fail-1"}
	msgBus.PublishOutbound(msg)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		failed := ch.failures == 0
		ch.mu.Unlock()
		if failed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgBus.PublishOutbound(msg)
	waitForSent(t, ch, 1)
}
