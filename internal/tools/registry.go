package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// GuardAction is the verdict a guard returns for a tool call.
type GuardAction int

const (
	// GuardAllow lets the tool run.
	GuardAllow GuardAction = iota
	// GuardDeny blocks the tool and surfaces an error.
	GuardDeny
	// GuardRequireApproval suspends the call until a human decides.
	GuardRequireApproval
)

// GuardResult carries the guard verdict plus an operator-facing message.
type GuardResult struct {
	Action  GuardAction
	Message string
}

// GuardFunc inspects a tool call before it runs.
type GuardFunc func(ctx context.Context, name, argsJSON string) (GuardResult, error)

// Registry manages tools by name and routes every execution through
// the configured guard.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
	guard GuardFunc
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// SetGuard installs the guard consulted on every Execute call.
// A nil guard allows everything.
func (r *Registry) SetGuard(guard GuardFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = guard
}

// Register adds a tool to registry
func (r *Registry) Register(t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools
func (r *Registry) List() []tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]tool.InvokableTool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// Names returns registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// GetToolInfos returns schema infos for binding tools to the model.
func (r *Registry) GetToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.List()))
	for _, t := range r.List() {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Execute runs a tool by name after consulting the guard. A denial
// returns an error without running the tool. A pending approval returns
// a normal result telling the model the call is suspended, so the
// conversation can continue while the human decides.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	r.mu.RLock()
	guard := r.guard
	r.mu.RUnlock()

	if guard != nil {
		verdict, err := guard(ctx, name, argsJSON)
		if err != nil {
			return "", fmt.Errorf("guard check for %s: %w", name, err)
		}
		switch verdict.Action {
		case GuardDeny:
			msg := verdict.Message
			if msg == "" {
				msg = "denied by guard"
			}
			return "", fmt.Errorf("tool %s blocked: %s", name, msg)
		case GuardRequireApproval:
			if verdict.Message != "" {
				return fmt.Sprintf("Tool call is pending approval. %s", verdict.Message), nil
			}
			return "Tool call is pending approval.", nil
		}
	}

	return t.InvokableRun(ctx, argsJSON)
}
