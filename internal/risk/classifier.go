package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const classifierSystemPrompt = `You are a security reviewer for a personal automation assistant.
Given a tool name and its arguments, assess how risky executing the call would be.

Levels:
- L0: read-only, no side effects
- L1: reversible local writes
- L2: destructive but recoverable, or configuration-affecting
- L3: irreversible, exfiltration-capable, or privilege-escalating

Respond with strictly this JSON and nothing else:
{"level": "L0|L1|L2|L3", "reason": "one sentence"}`

// Classifier produces risk classifications for tool calls. The
// deterministic rule engine runs first; an optional chat model is
// consulted only when no rule conclusively applies.
type Classifier struct {
	registry *Registry
	model    model.BaseChatModel
}

// NewClassifier creates a classifier over the given action registry.
// The model may be nil, in which case ambiguous calls stay ambiguous.
func NewClassifier(registry *Registry, chatModel model.BaseChatModel) *Classifier {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Classifier{registry: registry, model: chatModel}
}

// Registry returns the action registry backing this classifier.
func (c *Classifier) Registry() *Registry {
	return c.registry
}

// ClassifyDeterministic runs the ordered rule set and returns nil when
// no rule conclusively applies. It never returns an error; ambiguity is
// a valid result, not a failure.
//
// Rule order (first match governs):
//  1. registered read-only action with no escalating argument
//  2. injection/obfuscation heuristics over string arguments
//  3. path-sensitivity heuristics
//  4. the action's registered default level
//  5. ambiguous (nil)
func (c *Classifier) ClassifyDeterministic(toolName string, args map[string]any) *Classification {
	def, registered := c.registry.Lookup(toolName)

	var defPtr *ActionDefinition
	if registered {
		defPtr = &def
	}

	reason, escalated := matchEscalation(args, defPtr)

	// Read-only tools are never escalated by later rules; they short
	// circuit unless an escalation pattern matched their arguments.
	if registered && def.DefaultLevel == L0 && !escalated {
		return &Classification{
			Level:         L0,
			Reason:        fmt.Sprintf("%s is a read-only action", def.Name),
			Deterministic: true,
		}
	}

	if escalated {
		return &Classification{
			Level:         L3,
			Reason:        "Injection/obfuscation pattern: " + reason,
			Deterministic: true,
		}
	}

	if path, ok := args["path"].(string); ok {
		if level, pathReason := classifyPath(path); level != LevelUnknown {
			return &Classification{
				Level:         level,
				Reason:        "Path sensitivity: " + pathReason,
				Deterministic: true,
			}
		}
	}

	if registered && def.DefaultLevel != LevelUnknown {
		return &Classification{
			Level:         def.DefaultLevel,
			Reason:        fmt.Sprintf("registered default for %s", def.Name),
			Deterministic: true,
		}
	}

	return nil
}

// Classify runs the deterministic rules and falls back to the model
// when they are inconclusive. A deterministic result is authoritative
// and is returned without consulting the model. Returns nil when both
// paths are inconclusive.
func (c *Classifier) Classify(ctx context.Context, toolName string, args map[string]any) (*Classification, error) {
	if cls := c.ClassifyDeterministic(toolName, args); cls != nil {
		return cls, nil
	}
	if c.model == nil {
		return nil, nil
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args for model: %w", err)
	}

	resp, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Tool: %s\nArguments: %s", strings.TrimSpace(toolName), argsJSON)),
	})
	if err != nil {
		return nil, fmt.Errorf("model classification: %w", err)
	}

	return TryParseClassification(resp.Content), nil
}

// ParseArgs decodes a tool's JSON argument payload into the map form
// the classifier consumes. Malformed payloads classify as empty args.
func ParseArgs(argsJSON string) map[string]any {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return map[string]any{"raw": trimmed}
	}
	return args
}
