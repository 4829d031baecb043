package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	storeVersion      = 1
	approvalsFileMode = 0644
	approvalsDirMode  = 0755
)

// Record is the durable mirror of one approval decision. It is
// write-behind for operator visibility and crash forensics; resolving
// a pending future never reads it.
type Record struct {
	Nonce       string    `json:"nonce"`
	ToolName    string    `json:"tool_name"`
	ArgsJSON    string    `json:"args_json"`
	RiskLevel   string    `json:"risk_level"`
	Reason      string    `json:"reason,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Note        string    `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

type fileData struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store persists approval records under <workspace>/state/approvals.json.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a mirror store rooted at the workspace state dir.
func NewStore(workspace string) *Store {
	return &Store{
		path: filepath.Join(workspace, "state", "approvals.json"),
		now:  time.Now,
	}
}

// RecordCreated appends a pending record for a freshly created nonce.
func (s *Store) RecordCreated(pending Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return err
	}

	data.Records = append(data.Records, Record{
		Nonce:       pending.Nonce,
		ToolName:    pending.ToolName,
		ArgsJSON:    pending.ArgsJSON,
		RiskLevel:   pending.Classification.Level.String(),
		Reason:      pending.Classification.Reason,
		Outcome:     OutcomePending,
		RequestedAt: pending.CreatedAt,
	})
	return s.saveLocked(data)
}

// RecordResolved marks the record for nonce with its final outcome.
// Unknown nonces are ignored; the mirror never gates resolution.
func (s *Store) RecordResolved(nonce string, outcome Outcome, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return err
	}

	for i := range data.Records {
		rec := &data.Records[i]
		if rec.Nonce != nonce || rec.Outcome != OutcomePending {
			continue
		}
		rec.Outcome = outcome
		rec.Note = note
		rec.ResolvedAt = s.now().UTC()
		return s.saveLocked(data)
	}
	return nil
}

// List returns records filtered by outcome; an empty outcome returns
// everything.
func (s *Store) List(outcome Outcome) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	if outcome == "" {
		return data.Records, nil
	}
	filtered := make([]Record, 0, len(data.Records))
	for _, rec := range data.Records {
		if rec.Outcome == outcome {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (s *Store) loadLocked() (fileData, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileData{Version: storeVersion, Records: []Record{}}, nil
		}
		return fileData{}, fmt.Errorf("read approval store: %w", err)
	}

	var parsed fileData
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fileData{}, fmt.Errorf("parse approval store: %w", err)
	}
	if parsed.Version <= 0 {
		parsed.Version = storeVersion
	}
	if parsed.Records == nil {
		parsed.Records = []Record{}
	}
	return parsed, nil
}

func (s *Store) saveLocked(data fileData) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal approval store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, approvalsDirMode); err != nil {
		return fmt.Errorf("create approval store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "approvals-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp approval store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp approval store: %w", err)
	}
	if err := tmpFile.Chmod(approvalsFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp approval store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp approval store: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace approval store: %w", err)
	}
	return nil
}
