package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the previous-hash value of the first entry in a day
// file. Each day file is independently rooted; the chain does not span
// file boundaries.
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// Entry is one audit record written as a single JSON line. Once
// written it is never edited; tampering is detected by Verify.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Tool      string `json:"tool"`
	Args      string `json:"args"`
	RiskLevel string `json:"risk_level"`
	Approved  bool   `json:"approved"`
	Result    string `json:"result"`
	UserID    string `json:"user_id"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
}

// NewEntry stamps an entry with an ISO-8601 UTC timestamp. Hash fields
// are filled in by Log.Append.
func NewEntry(now time.Time, action, tool, args, riskLevel string, approved bool, result, userID string) Entry {
	return Entry{
		Timestamp: now.UTC().Format(time.RFC3339),
		Action:    action,
		Tool:      tool,
		Args:      args,
		RiskLevel: riskLevel,
		Approved:  approved,
		Result:    result,
		UserID:    userID,
	}
}

// Day returns the calendar day (UTC) the entry belongs to, which names
// its file. Falls back to today when the timestamp does not parse.
func (e Entry) Day() string {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Now().UTC().Format(time.DateOnly)
	}
	return ts.UTC().Format(time.DateOnly)
}

// computeHash digests the entry's stored prev_hash concatenated with a
// canonical fixed-order serialization of every other field. Independent
// verifiers reproduce identical digests from the same line.
func computeHash(e Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%t|%s|%s",
		e.PrevHash, e.Timestamp, e.Action, e.Tool, e.Args,
		e.RiskLevel, e.Approved, e.Result, e.UserID)
	return hex.EncodeToString(h.Sum(nil))
}
