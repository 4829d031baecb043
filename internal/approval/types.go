package approval

import (
	"context"
	"time"

	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/risk"
)

// Outcome is the lifecycle state of a pending approval.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// Pending is one approval decision awaiting a human. The resolve
// capability stays with the gate; at most one resolution wins.
type Pending struct {
	Nonce          string              `json:"nonce"`
	ToolName       string              `json:"tool_name"`
	ArgsJSON       string              `json:"args_json"`
	Classification risk.Classification `json:"classification"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Notifier delivers an approval prompt to a human over a messaging
// surface. Adapters render the prompt and the approve:<nonce> /
// deny:<nonce> replies in whatever form the platform supports; the
// gate never formats platform payloads itself.
type Notifier interface {
	SendApproval(ctx context.Context, chatID string, req Pending) error
}
