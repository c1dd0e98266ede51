// Package async runs device jobs on a bounded worker pool.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/netpulse/errors"
)

// Job is one unit of work handed to the pool
//
// Jobs are not persisted. The execution record is created by the handler
// when it starts, so a job that never leaves the queue leaves no trace.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`      // e.g. "config_backup"
	Payload     json.RawMessage `json:"payload,omitempty"` // handler-specific data
	Source      string          `json:"source"`            // schedule id or "cli"
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// NewJobWithPayload creates a job with a pre-serialized payload
func NewJobWithPayload(handlerName, source string, payload []byte) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("job requires a handler name")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, errors.Newf("payload for %s is not valid JSON", handlerName)
	}
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		EnqueuedAt:  time.Now(),
	}, nil
}

// NewJob marshals payload into a new job
func NewJob(handlerName, source string, payload any) (*Job, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal payload for %s", handlerName)
	}
	return NewJobWithPayload(handlerName, source, b)
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return errors.Newf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to decode payload for job %s", j.ID)
	}
	return nil
}
