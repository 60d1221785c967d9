// Package eventlog provides a durable JSONL audit trail of scheduling-cycle
// events: dispatches, gate decisions, and escalations.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types written by the orchestrator.
const (
	EventCycleStart   = "cycle_start"
	EventCycleEnd     = "cycle_end"
	EventGateDecision = "gate_decision"
	EventDispatch     = "dispatch"
	EventEscalation   = "escalation"
	EventStallWarning = "stall_warning"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	CycleID   string         `json:"cycle_id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	StoryID   string         `json:"story_id,omitempty"`
	AgentRole string         `json:"agent_role,omitempty"`
	Decision  string         `json:"decision,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Writer appends events to time-rotated JSONL files.
type Writer struct {
	logDir        string
	rotationHours int
	currentFile   *os.File
	currentBucket string
	mu            sync.Mutex
}

// NewWriter creates an event log writer in the given directory. rotationHours
// sets the rotation interval; 24 or more rotates daily, values below 24 cut a
// new file on each interval boundary within the day. Zero or negative falls
// back to daily.
func NewWriter(logDir string, rotationHours int) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if rotationHours <= 0 || rotationHours > 24 {
		rotationHours = 24
	}

	writer := &Writer{logDir: logDir, rotationHours: rotationHours}
	if err := writer.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return writer, nil
}

// Write appends one event, rotating the file when the interval rolls over.
// Each line is synced so a crash mid-cycle loses at most the line being
// written.
func (w *Writer) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.currentFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

// bucketLabel names the log file covering the given instant. Daily rotation
// keeps the plain date; sub-daily rotation appends the hour the interval
// starts at, so an 8-hour rotation yields T00, T08, and T16 files.
func bucketLabel(now time.Time, rotationHours int) string {
	if rotationHours >= 24 {
		return now.Format("2006-01-02")
	}
	hour := (now.Hour() / rotationHours) * rotationHours
	return fmt.Sprintf("%sT%02d", now.Format("2006-01-02"), hour)
}

func (w *Writer) rotateIfNeeded() error {
	bucket := bucketLabel(time.Now().UTC(), w.rotationHours)
	if w.currentFile != nil && w.currentBucket == bucket {
		return nil
	}
	return w.rotate(bucket)
}

func (w *Writer) rotate(bucket string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", bucket))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentBucket = bucket
	return nil
}
