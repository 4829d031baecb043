package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755
)

// ErrNoAuditFile reports that no entries exist for the requested day.
// It is distinct from a broken chain.
var ErrNoAuditFile = errors.New("no audit file for date")

// Log appends hash-chained entries to per-day files under dir. It
// assumes a single logical writer; callers dispatching governed
// actions concurrently must serialize Append calls for the same day.
type Log struct {
	dir string
	mu  sync.Mutex

	// cached tail of the chain for the day last written to, so Append
	// does not rescan the file on every call.
	cachedDay  string
	cachedHash string
}

// NewLog creates an audit log rooted at dir. The directory is created
// lazily on first append.
func NewLog(dir string) *Log {
	return &Log{dir: dir}
}

// Dir returns the directory holding the day files.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) dayPath(day string) string {
	return filepath.Join(l.dir, day+".jsonl")
}

// Append links the entry to the day's chain and writes it as one JSONL
// line, creating the file and directory as needed. A write failure
// propagates to the caller, which decides whether to fail the governed
// action (fail-safe deny is the recommended policy).
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := entry.Day()

	prevHash, err := l.tailHashLocked(day)
	if err != nil {
		return err
	}

	entry.PrevHash = prevHash
	entry.Hash = computeHash(entry)

	if err := os.MkdirAll(l.dir, auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(l.dayPath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}

	l.cachedDay = day
	l.cachedHash = entry.Hash
	return nil
}

// tailHashLocked returns the hash the next entry for day must chain
// from: the cached tail, the last line of an existing file, or the
// genesis value for a fresh day.
func (l *Log) tailHashLocked(day string) (string, error) {
	if l.cachedDay == day && l.cachedHash != "" {
		return l.cachedHash, nil
	}

	file, err := os.Open(l.dayPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	last := ""
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit file: %w", err)
	}
	if last == "" {
		return GenesisHash, nil
	}

	var tail Entry
	if err := json.Unmarshal([]byte(last), &tail); err != nil {
		return "", fmt.Errorf("parse audit tail: %w", err)
	}
	return tail.Hash, nil
}

// Report is the outcome of verifying one day's chain.
type Report struct {
	Valid   bool `json:"valid"`
	Entries int  `json:"entries"`
	// FirstBroken is the zero-based index of the first entry whose
	// stored hash no longer matches its recomputed value. -1 when the
	// chain is intact.
	FirstBroken int `json:"first_broken"`
}

// Verify reads every line of the day's file in order, recomputing each
// entry's hash from its stored fields and checking both the digest and
// the link to the predecessor. A line that fails to parse is a broken
// link at its own index. Returns ErrNoAuditFile when the day has no
// entries at all.
func (l *Log) Verify(date string) (Report, error) {
	file, err := os.Open(l.dayPath(strings.TrimSpace(date)))
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, fmt.Errorf("%w: %s", ErrNoAuditFile, date)
		}
		return Report{}, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	report := Report{Valid: true, FirstBroken: -1}
	expectedPrev := GenesisHash

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.Entries++

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return brokenAt(report, index), nil
		}
		if entry.PrevHash != expectedPrev {
			return brokenAt(report, index), nil
		}
		if computeHash(entry) != entry.Hash {
			return brokenAt(report, index), nil
		}

		expectedPrev = entry.Hash
		index++
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("scan audit file: %w", err)
	}

	return report, nil
}

// Read returns the parsed entries of one day in order. Lines that fail
// to parse stop the read; use Verify for tamper reporting.
func (l *Log) Read(date string) ([]Entry, error) {
	file, err := os.Open(l.dayPath(strings.TrimSpace(date)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoAuditFile, date)
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("parse audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file: %w", err)
	}
	return entries, nil
}

func brokenAt(report Report, index int) Report {
	report.Valid = false
	report.FirstBroken = index
	return report
}
