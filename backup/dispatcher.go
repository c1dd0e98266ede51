package backup

import (
	"context"
	"fmt"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/pulse/async"
	"github.com/teranos/netpulse/pulse/schedule"
)

// Submitter accepts jobs without blocking. *async.WorkerPool implements it.
type Submitter interface {
	Submit(job *async.Job) error
}

// ScheduleDispatcher turns due schedules into pool jobs
type ScheduleDispatcher struct {
	pool Submitter
}

// NewScheduleDispatcher creates a dispatcher submitting to pool
func NewScheduleDispatcher(pool Submitter) *ScheduleDispatcher {
	return &ScheduleDispatcher{pool: pool}
}

var _ schedule.Dispatcher = (*ScheduleDispatcher)(nil)

// Dispatch submits one job for d. Device jobs without a device are
// configuration errors.
func (s *ScheduleDispatcher) Dispatch(_ context.Context, d *schedule.Definition) error {
	job, err := JobForSchedule(d)
	if err != nil {
		return err
	}
	return s.pool.Submit(job)
}

// JobForSchedule builds the pool job a schedule fires
func JobForSchedule(d *schedule.Definition) (*async.Job, error) {
	if d.DeviceID == "" && (d.JobKind == KindConfigBackup || d.JobKind == KindDeviceCommand) {
		return nil, errors.NewConfigurationError("schedule %s has no device", d.ID)
	}
	p := Payload{
		DeviceID:   d.DeviceID,
		UserID:     d.UserID,
		ScheduleID: d.ID,
		Reason:     payloadString(d.Payload, "reason"),
		Command:    payloadString(d.Payload, "command"),
	}
	if p.Reason == "" {
		p.Reason = fmt.Sprintf("schedule %s (%s)", d.Name, d.Kind)
	}
	return async.NewJob(d.JobKind, "schedule:"+d.ID, p)
}

// NewManualJob builds a job requested outside any schedule
func NewManualJob(kind string, p Payload) (*async.Job, error) {
	if p.DeviceID == "" {
		return nil, errors.NewConfigurationError("%s job requires a device", kind)
	}
	if p.Reason == "" {
		p.Reason = "manual"
	}
	return async.NewJob(kind, "cli", p)
}

func payloadString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
