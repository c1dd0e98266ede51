// Package schedule computes when device jobs run and drives due schedules
// to an execution entry point.
package schedule

import "time"

// Definition is a persisted schedule: when to run and what to run
type Definition struct {
	ID   string
	Name string
	Recurrence

	JobKind  string // handler run on dispatch, e.g. "config_backup"
	DeviceID string
	UserID   string // notification recipient
	Payload  map[string]any

	Enabled   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
