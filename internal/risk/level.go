package risk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is an ordered risk level. Comparisons use the numeric order,
// never the display name.
type Level int

const (
	// LevelUnknown marks an action with no registered default level.
	LevelUnknown Level = iota - 1

	// L0 is read-only, no side effects.
	L0
	// L1 is reversible local writes.
	L1
	// L2 is destructive-but-recoverable or configuration-affecting.
	L2
	// L3 is irreversible, exfiltration-capable, or privilege-escalating.
	L3
)

// String returns the display name of a level.
func (l Level) String() string {
	switch l {
	case L0:
		return "L0"
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return "unknown"
	}
}

// ParseLevel converts a display name back to a Level.
// Only the four defined levels are accepted.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L0":
		return L0, nil
	case "L1":
		return L1, nil
	case "L2":
		return L2, nil
	case "L3":
		return L3, nil
	default:
		return LevelUnknown, fmt.Errorf("invalid risk level: %q", s)
	}
}

// MarshalJSON encodes the level as its display name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a display name into a level.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Classification is the result of classifying one tool call.
// It is a value type and is never mutated after creation.
type Classification struct {
	Level Level `json:"level"`
	// Reason is a human-readable justification.
	Reason string `json:"reason"`
	// Deterministic is true when the rule engine produced the result.
	// Deterministic classifications are authoritative and must not be
	// overridden by a later model guess for the same call.
	Deterministic bool `json:"deterministic"`
}
