package risk

import (
	"encoding/json"
	"strings"
)

// defaultModelReason is substituted when the model omits a reason.
const defaultModelReason = "model assessed risk without stated reason"

type modelPayload struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

// TryParseClassification extracts a classification from raw model
// output. The model may wrap its answer in code fences or precede it
// with free-text reasoning; the first well-formed JSON object found
// anywhere in the text is used. Returns nil for malformed text or an
// undefined level value, never an error.
func TryParseClassification(raw string) *Classification {
	for _, candidate := range jsonObjects(raw) {
		var payload modelPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}

		level, err := ParseLevel(payload.Level)
		if err != nil {
			return nil
		}

		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = defaultModelReason
		}

		return &Classification{Level: level, Reason: reason, Deterministic: false}
	}
	return nil
}

// jsonObjects scans text for balanced top-level JSON objects, ignoring
// braces inside string literals.
func jsonObjects(text string) []string {
	var objects []string

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return objects
}
