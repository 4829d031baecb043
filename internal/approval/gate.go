package approval

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
)

const nonceBytes = 16

type pendingEntry struct {
	record Pending
	done   chan bool
}

// Gate holds the in-memory set of decisions awaiting a human. One
// execution path suspends on the future returned by Create while a
// disjoint path (messaging adapter callback or timer) resolves it.
// The in-memory set is the source of truth; the optional mirror store
// exists for operator visibility only.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	mirror  *Store
	now     func() time.Time
}

// NewGate creates an empty approval gate. mirror may be nil.
func NewGate(mirror *Store) *Gate {
	return &Gate{
		pending: make(map[string]*pendingEntry),
		mirror:  mirror,
		now:     time.Now,
	}
}

// Create registers a pending approval for a governed tool call and
// returns its nonce plus the future the caller suspends on. The future
// yields exactly one value: true on approval, false on denial, timeout
// or shutdown.
func (g *Gate) Create(toolName, argsJSON string, cls risk.Classification) (string, <-chan bool, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", nil, err
	}

	entry := &pendingEntry{
		record: Pending{
			Nonce:          nonce,
			ToolName:       toolName,
			ArgsJSON:       argsJSON,
			Classification: cls,
			CreatedAt:      g.now().UTC(),
		},
		done: make(chan bool, 1),
	}

	g.mu.Lock()
	g.pending[nonce] = entry
	g.mu.Unlock()

	if g.mirror != nil {
		if err := g.mirror.RecordCreated(entry.record); err != nil {
			slog.Warn("approval mirror write failed", "nonce", nonce, "error", err)
		}
	}

	return nonce, entry.done, nil
}

// Resolve fulfills the pending future for nonce with the human's
// decision. Returns false for unknown nonces and for nonces already
// resolved, so a double-tap or a race between a timeout and a late
// human response is a silent no-op for the loser.
func (g *Gate) Resolve(nonce string, approved bool) bool {
	g.mu.Lock()
	entry, ok := g.pending[nonce]
	if ok {
		delete(g.pending, nonce)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}

	entry.done <- approved
	close(entry.done)

	if g.mirror != nil {
		outcome := OutcomeDenied
		if approved {
			outcome = OutcomeApproved
		}
		if err := g.mirror.RecordResolved(nonce, outcome, ""); err != nil {
			slog.Warn("approval mirror update failed", "nonce", nonce, "error", err)
		}
	}
	return true
}

// RejectAllPending fulfills every still-pending future with a denial
// and clears the set. Called at shutdown so no awaiting execution path
// is leaked.
func (g *Gate) RejectAllPending(reason string) {
	g.mu.Lock()
	drained := g.pending
	g.pending = make(map[string]*pendingEntry)
	g.mu.Unlock()

	for nonce, entry := range drained {
		entry.done <- false
		close(entry.done)
		if g.mirror != nil {
			if err := g.mirror.RecordResolved(nonce, OutcomeDenied, reason); err != nil {
				slog.Warn("approval mirror update failed", "nonce", nonce, "error", err)
			}
		}
	}
	if len(drained) > 0 {
		slog.Info("rejected all pending approvals", "count", len(drained), "reason", reason)
	}
}

// PendingCount returns the number of unresolved approvals.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// PendingList returns a snapshot of unresolved approvals in no
// particular order.
func (g *Gate) PendingList() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	list := make([]Pending, 0, len(g.pending))
	for _, entry := range g.pending {
		list = append(list, entry.record)
	}
	return list
}

// ScheduleTimeout arranges a deferred denial for nonce. Because
// Resolve is idempotent-safe, whichever of the timer and the human
// arrives first wins and the other is a no-op. The returned stop
// function releases the timer early.
func (g *Gate) ScheduleTimeout(nonce string, after time.Duration) (stop func()) {
	timer := time.AfterFunc(after, func() {
		if g.Resolve(nonce, false) {
			slog.Info("approval timed out", "nonce", nonce, "after", after.String())
		}
	})
	return func() { timer.Stop() }
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
