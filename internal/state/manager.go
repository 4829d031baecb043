package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const activeChatFileMode = 0600

// ActiveChat is the most recent chat surface the operator spoke on.
// Approval prompts fall back to it when no operator chat is configured.
type ActiveChat struct {
	Channel string    `json:"channel"`
	ChatID  string    `json:"chat_id"`
	SeenAt  time.Time `json:"seen_at,omitempty"`
}

// Manager persists lightweight runtime state under <workspace>/state.
type Manager struct {
	activeChatPath string
	mu             sync.Mutex
}

// NewManager creates a state manager rooted at the workspace.
func NewManager(workspace string) *Manager {
	return &Manager{
		activeChatPath: filepath.Join(workspace, "state", "active_chat.json"),
	}
}

// LoadActiveChat reads the last active chat from disk. Missing or
// malformed files are treated as empty state.
func (m *Manager) LoadActiveChat() (ActiveChat, error) {
	data, err := os.ReadFile(m.activeChatPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ActiveChat{}, nil
		}
		return ActiveChat{}, err
	}

	var ac ActiveChat
	if err := json.Unmarshal(data, &ac); err != nil {
		return ActiveChat{}, nil
	}
	ac.Channel = strings.TrimSpace(ac.Channel)
	ac.ChatID = strings.TrimSpace(ac.ChatID)
	if ac.Channel == "" || ac.ChatID == "" {
		return ActiveChat{}, nil
	}
	return ac, nil
}

// SaveActiveChat writes the last active chat to disk. Incomplete
// targets are ignored rather than clobbering a usable one.
func (m *Manager) SaveActiveChat(ac ActiveChat) error {
	ac.Channel = strings.TrimSpace(ac.Channel)
	ac.ChatID = strings.TrimSpace(ac.ChatID)
	if ac.Channel == "" || ac.ChatID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.activeChatPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ac, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.activeChatPath, data, activeChatFileMode)
}
