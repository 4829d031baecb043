package risk

import (
	"regexp"
	"strings"
	"sync"
)

// ActionDefinition describes one registered action and its default risk.
type ActionDefinition struct {
	Name        string
	Description string
	// DefaultLevel is LevelUnknown when the action has no default and
	// must be classified from its arguments.
	DefaultLevel Level
	// Escalations are optional per-action patterns that disqualify the
	// read-only short circuit when they match an argument value.
	Escalations []*regexp.Regexp
}

// Registry is a catalog of action definitions. It is a pure lookup
// table owned by whoever constructs it; re-registering a name
// overwrites the earlier definition.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionDefinition
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionDefinition)}
}

// Register adds or replaces an action definition.
func (r *Registry) Register(def ActionDefinition) {
	name := normalizeActionName(def.Name)
	if name == "" {
		return
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = def
}

// Lookup returns the definition for an action name.
func (r *Registry) Lookup(name string) (ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.actions[normalizeActionName(name)]
	return def, ok
}

// Names returns all registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}

func normalizeActionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterDefaults loads the built-in action catalog.
func (r *Registry) RegisterDefaults() {
	defaults := []ActionDefinition{
		{Name: "read_file", Description: "Read the contents of a file", DefaultLevel: L0},
		{Name: "list_dir", Description: "List contents of a directory", DefaultLevel: L0},
		{Name: "write_file", Description: "Write content to a file", DefaultLevel: LevelUnknown},
		{Name: "edit_file", Description: "Replace text inside a file", DefaultLevel: LevelUnknown},
		{Name: "append_file", Description: "Append content to a file", DefaultLevel: LevelUnknown},
		{Name: "shell_exec", Description: "Execute a shell command", DefaultLevel: LevelUnknown},
		{Name: "message", Description: "Send a message to a chat", DefaultLevel: L1},
		{Name: "home_call", Description: "Invoke a home automation service", DefaultLevel: L2},
	}
	for _, def := range defaults {
		r.Register(def)
	}
}
