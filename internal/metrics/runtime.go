package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const snapshotFileName = "runtime_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Snapshot aggregates runtime metrics for governed tool calls and
// outbound channel sends.
type Snapshot struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Tool      ToolStats    `json:"tool"`
	Channel   ChannelStats `json:"channel"`
}

// ToolStats tracks governed tool execution outcomes.
type ToolStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Denied            int64 `json:"denied"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Total)
}

// DeniedRatio returns denied/total in [0,1].
func (t ToolStats) DeniedRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Denied) / float64(t.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Total)
}

// ChannelStats tracks outbound channel send metrics.
type ChannelStats struct {
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c ChannelStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// HasData reports whether anything was recorded.
func (s Snapshot) HasData() bool {
	return s.Tool.Total > 0 || s.Channel.SendAttempts > 0
}

// Recorder records runtime metrics and persists each snapshot to
// <workspace>/state/runtime_metrics.json.
type Recorder struct {
	path string

	mu      sync.Mutex
	snap    Snapshot
	buckets []int64
}

// NewRecorder creates a metrics recorder rooted at the workspace.
func NewRecorder(workspacePath string) *Recorder {
	return &Recorder{
		path:    snapshotPath(workspacePath),
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Snapshot returns the latest in-memory snapshot.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// RecordTool updates tool metrics for one finished call and persists
// the snapshot. Denials are counted separately from other errors.
func (r *Recorder) RecordTool(duration time.Duration, result string, runErr error) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, nil
	}

	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	r.mu.Lock()
	r.snap.UpdatedAt = time.Now().UTC()
	r.snap.Tool.Total++
	r.snap.Tool.TotalLatencyMs += latencyMs
	r.snap.Tool.LastLatencyMs = latencyMs
	if latencyMs > r.snap.Tool.MaxLatencyMs {
		r.snap.Tool.MaxLatencyMs = latencyMs
	}
	if runErr != nil || strings.HasPrefix(strings.TrimSpace(result), "Error:") {
		r.snap.Tool.Errors++
		if isDenial(runErr, result) {
			r.snap.Tool.Denied++
		} else if isTimeout(runErr, result) {
			r.snap.Tool.Timeouts++
		}
	}

	r.buckets[latencyBucketIndex(latencyMs)]++
	r.snap.Tool.P95ProxyLatencyMs = p95ProxyFromBuckets(r.buckets, r.snap.Tool.Total)

	snapshot := r.snap
	r.mu.Unlock()

	return snapshot, persistSnapshot(r.path, snapshot)
}

// RecordSend updates outbound channel send metrics and persists the
// snapshot. Each delivery attempt counts once.
func (r *Recorder) RecordSend(success bool) (Snapshot, error) {
	if r == nil {
		return Snapshot{}, nil
	}

	r.mu.Lock()
	r.snap.UpdatedAt = time.Now().UTC()
	r.snap.Channel.SendAttempts++
	if !success {
		r.snap.Channel.SendFailures++
	}
	snapshot := r.snap
	r.mu.Unlock()

	return snapshot, persistSnapshot(r.path, snapshot)
}

// ReadSnapshot reads the persisted snapshot from workspace state. A
// missing file yields a zero snapshot and nil error.
func ReadSnapshot(workspacePath string) (Snapshot, error) {
	raw, err := os.ReadFile(snapshotPath(workspacePath))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func snapshotPath(workspacePath string) string {
	return filepath.Join(workspacePath, "state", snapshotFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isDenial(runErr error, result string) bool {
	combined := strings.ToLower(combineErrAndResult(runErr, result))
	return strings.Contains(combined, "blocked:") ||
		strings.Contains(combined, "treated as denied") ||
		strings.Contains(combined, "denied or timed out")
}

func isTimeout(runErr error, result string) bool {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	combined := strings.ToLower(combineErrAndResult(runErr, result))
	return strings.Contains(combined, "deadline exceeded") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "timed out")
}

func combineErrAndResult(runErr error, result string) string {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	return errText + " " + strings.TrimSpace(result)
}
