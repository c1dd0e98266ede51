// Package notify delivers job outcome summaries to users, gated by their
// notification preferences.
package notify

import (
	"context"
	"time"
)

// Outcome is the terminal state a summary reports
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// IsFailure reports whether the outcome falls under the failure switch
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeCanceled
}

// Frequency controls when notifications are delivered
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily:
		return true
	}
	return false
}

// Preferences are one user's notification settings
type Preferences struct {
	UserID       string
	Address      string
	Enabled      bool // global on/off
	OnCompletion bool
	OnFailure    bool
	Frequency    Frequency
	UpdatedAt    time.Time
}

// Allows reports whether preferences permit a notification for outcome
func (p *Preferences) Allows(o Outcome) bool {
	if !p.Enabled {
		return false
	}
	if o.IsFailure() {
		return p.OnFailure
	}
	return p.OnCompletion
}

// Summary is the redacted description of a finished job
type Summary struct {
	ExecutionID string        `json:"execution_id"`
	JobKind     string        `json:"job_kind"`
	DeviceLabel string        `json:"device_label,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	Message     string        `json:"message,omitempty"`
	FinishedAt  time.Time     `json:"finished_at"`

	// Items is set on digest summaries only
	Items []Summary `json:"items,omitempty"`
}

// Channel delivers a summary to an address
type Channel interface {
	Send(ctx context.Context, address string, s Summary, p Preferences) (bool, error)
}

// PreferenceStore looks up user preferences
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
}

// DigestItem is a notification deferred to batched delivery
type DigestItem struct {
	ID          int64
	UserID      string
	Address     string
	Frequency   Frequency
	ExecutionID string
	Summary     Summary
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// DigestQueue stores deferred notifications
type DigestQueue interface {
	Enqueue(ctx context.Context, item DigestItem) error
}
