// Package tracker owns the lifecycle of job executions. Every log line a
// job produces passes through the Tracker, which redacts it, keeps running
// executions in an in-memory session cache and persists everything to the
// durable store.
package tracker

import (
	"time"

	"github.com/teranos/netpulse/logger"
)

// Status is the lifecycle state of an execution
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Log entry categories written by the tracker and the backup handler
const (
	CategoryLifecycle    = "lifecycle"
	CategoryStatusUpdate = "status_update"
	CategoryConnection   = "connection"
	CategoryDevice       = "device"
)

// DefaultRetentionDays applies when neither the request nor the tracker
// options set a retention window
const DefaultRetentionDays = 30

// Execution is the durable record of one job run
type Execution struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Kind          string         `json:"kind"`
	Status        Status         `json:"status"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty"`
	ResultMessage string         `json:"result_message,omitempty"`
	JobData       map[string]any `json:"job_data,omitempty"` // redacted
	DeviceID      string         `json:"device_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	RetentionDays int            `json:"retention_days"`
}

// Duration returns the recorded duration, zero while running
func (e *Execution) Duration() time.Duration {
	if e.DurationMs == nil {
		return 0
	}
	return time.Duration(*e.DurationMs) * time.Millisecond
}

// ExpiresAt returns when a terminal execution becomes eligible for cleanup
func (e *Execution) ExpiresAt() (time.Time, bool) {
	if e.EndTime == nil || !e.Status.IsTerminal() {
		return time.Time{}, false
	}
	return e.EndTime.AddDate(0, 0, e.RetentionDays), true
}

// LogEntry is one append-only line of an execution's log
type LogEntry struct {
	ID          int64          `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Level       logger.Level   `json:"level"`
	Category    string         `json:"category,omitempty"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"` // redacted
}

// Entry is what callers pass to Tracker.Log
type Entry struct {
	Level    logger.Level
	Category string
	Message  string
	Details  map[string]any
}

// ExecutionPatch is the terminal update applied by End
type ExecutionPatch struct {
	Status        Status
	EndTime       time.Time
	DurationMs    int64
	ResultMessage string
	JobData       map[string]any
}

// LogFilter narrows ListLogEntries
type LogFilter struct {
	Level    logger.Level
	Category string
	Since    *time.Time
	Limit    int
}

// ExecutionFilter narrows ListExecutions
type ExecutionFilter struct {
	Status   Status
	DeviceID string
	Kind     string
	Limit    int
}
