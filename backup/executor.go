// Package backup is the execution entry point for device jobs. It opens a
// tracker session, connects through the credential candidates and stores
// the retrieved configuration.
package backup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/connect"
	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/device"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/util"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/pulse/async"
	"github.com/teranos/netpulse/pulse/tracker"
)

// Job kinds handled by the executor
const (
	KindConfigBackup  = "config_backup"
	KindDeviceCommand = "device_command"
)

// Payload is the job payload of every device job
type Payload struct {
	DeviceID   string `json:"device_id"`
	UserID     string `json:"user_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Command    string `json:"command,omitempty"` // device_command only
}

// DeviceSource looks up devices. *device.Store implements it.
type DeviceSource interface {
	Get(ctx context.Context, id string) (*device.Device, error)
}

// CandidateResolver orders credentials for a target. *credential.Resolver
// implements it.
type CandidateResolver interface {
	ResolveCandidates(ctx context.Context, t credential.Target) ([]credential.Candidate, error)
}

// Deps are the collaborators of an Executor
type Deps struct {
	Devices   DeviceSource
	Resolver  CandidateResolver
	Engine    *connect.Engine
	Dialer    device.Dialer
	Tracker   *tracker.Tracker
	Snapshots *SnapshotStore
}

// Options tune an Executor
type Options struct {
	Connect       connect.Options
	KeepSnapshots int // per device, 0 keeps everything
	OutputLimit   int // device_command output kept in job data, in runes
}

// Executor runs device jobs on pool workers
type Executor struct {
	deps   Deps
	opts   Options
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewExecutor creates an executor
func NewExecutor(deps Deps, opts Options, log *zap.SugaredLogger) *Executor {
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = 4000
	}
	return &Executor{
		deps:   deps,
		opts:   opts,
		logger: logger.Component(log, "backup"),
		now:    time.Now,
	}
}

// Register adds the executor's handlers to registry
func (e *Executor) Register(registry *async.HandlerRegistry) {
	registry.Register(async.HandlerFunc{HandlerName: KindConfigBackup, Fn: e.runBackup})
	registry.Register(async.HandlerFunc{HandlerName: KindDeviceCommand, Fn: e.runCommand})
}

// work runs once a transport is connected. It returns the result message
// and extra job data.
type work func(ctx context.Context, execID string, dev *device.Device, t device.Transport) (string, map[string]any, error)

func (e *Executor) runBackup(ctx context.Context, job *async.Job) error {
	return e.run(ctx, job, KindConfigBackup, func(ctx context.Context, execID string, dev *device.Device, t device.Transport) (string, map[string]any, error) {
		config, err := t.GetConfiguration(ctx)
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to retrieve configuration")
		}
		e.deps.Tracker.Log(context.WithoutCancel(ctx), execID, tracker.Entry{
			Level:    logger.LevelInfo,
			Category: tracker.CategoryDevice,
			Message:  "configuration retrieved",
			Details:  map[string]any{"size": len(config), "command": dev.RetrievalCommand()},
		})

		snap, err := e.deps.Snapshots.Save(ctx, dev.ID, execID, config, e.now())
		if err != nil {
			return "", nil, err
		}
		if snap.Changed && e.opts.KeepSnapshots > 0 {
			if n, err := e.deps.Snapshots.Prune(ctx, dev.ID, e.opts.KeepSnapshots); err != nil {
				e.logger.Warnw("Failed to prune snapshots", logger.FieldDeviceID, dev.ID, logger.FieldError, err)
			} else if n > 0 {
				e.logger.Debugw("Snapshots pruned", logger.FieldDeviceID, dev.ID, logger.FieldCount, n)
			}
		}

		data := map[string]any{
			"snapshot_id": snap.ID,
			"sha256":      snap.SHA256,
			"size":        snap.Size,
			"changed":     snap.Changed,
		}
		if !snap.Changed {
			return "configuration unchanged", data, nil
		}
		return fmt.Sprintf("configuration saved (%d bytes)", snap.Size), data, nil
	})
}

func (e *Executor) runCommand(ctx context.Context, job *async.Job) error {
	return e.run(ctx, job, KindDeviceCommand, func(ctx context.Context, execID string, dev *device.Device, t device.Transport) (string, map[string]any, error) {
		var p Payload
		if err := job.DecodePayload(&p); err != nil {
			return "", nil, err
		}
		if p.Command == "" {
			return "", nil, errors.NewConfigurationError("device_command job %s has no command", job.ID)
		}
		out, err := t.SendCommand(ctx, p.Command)
		if err != nil {
			return "", nil, errors.Wrapf(err, "command %q failed", p.Command)
		}
		out = device.NormalizeOutput(out)
		return fmt.Sprintf("command returned %d bytes", len(out)), map[string]any{
			"command": p.Command,
			"output":  util.Truncate(out, e.opts.OutputLimit),
		}, nil
	})
}

// run is shared by every handler: tracker session, candidate resolution,
// connection with retries, then the job-specific work.
func (e *Executor) run(ctx context.Context, job *async.Job, kind string, fn work) error {
	var p Payload
	if err := job.DecodePayload(&p); err != nil {
		return errors.Mark(err, errors.ErrConfiguration)
	}
	// Tracker writes must land even when the job context is canceled
	trackCtx := context.WithoutCancel(ctx)
	tr := e.deps.Tracker

	dev, devErr := e.deps.Devices.Get(ctx, p.DeviceID)
	req := tracker.StartRequest{
		JobID:    job.ID,
		Kind:     kind,
		DeviceID: p.DeviceID,
		UserID:   p.UserID,
		JobData:  jobData(job, p, dev),
	}
	if dev != nil {
		req.DeviceLabel = dev.DisplayName()
	}
	execID, err := tr.Start(trackCtx, req)
	if err != nil {
		return err
	}
	// The pool recovers handler panics; the session must not outlive them
	defer func() {
		if r := recover(); r != nil {
			tr.End(trackCtx, execID, false, fmt.Sprintf("%s handler panicked: %v", kind, r), nil)
			panic(r)
		}
	}()
	ctx = logger.WithDeviceID(logger.WithExecutionID(ctx, execID), p.DeviceID)
	log := logger.FromContext(ctx, e.logger)

	if devErr != nil {
		tr.End(trackCtx, execID, false, devErr.Error(), nil)
		return devErr
	}

	candidates, err := e.deps.Resolver.ResolveCandidates(ctx, dev.Target())
	if err != nil {
		tr.End(trackCtx, execID, false, err.Error(), nil)
		return err
	}
	tr.Log(trackCtx, execID, tracker.Entry{
		Level:    logger.LevelInfo,
		Category: tracker.CategoryConnection,
		Message:  fmt.Sprintf("connecting to %s with %d credential candidate(s)", dev.Address(), len(candidates)),
	})

	opts := e.opts.Connect
	opts.ShouldCancel = tr.CancelCheck(execID)
	opts.OnAttempt = func(ev connect.AttemptEvent) { e.logAttempt(trackCtx, execID, ev) }

	var transport device.Transport
	outcome := e.deps.Engine.AttemptConnection(ctx, candidates, func(ctx context.Context, c credential.Candidate) error {
		t, err := e.deps.Dialer.NewTransport(dev, c)
		if err != nil {
			return err
		}
		if err := t.Connect(ctx); err != nil {
			_ = t.Disconnect()
			return err
		}
		transport = t
		return nil
	}, opts)
	data := outcomeData(outcome)

	if outcome.Canceled {
		msg := fmt.Sprintf("canceled after %d attempt(s)", outcome.TotalAttempts())
		if tr.CancelRequested(execID) {
			tr.End(trackCtx, execID, false, msg, data)
		} else {
			tr.Cancel(trackCtx, execID, msg, data)
		}
		return outcome.Err
	}
	if !outcome.Succeeded() {
		tr.End(trackCtx, execID, false, outcome.Err.Error(), data)
		return outcome.Err
	}
	defer func() {
		if err := transport.Disconnect(); err != nil {
			log.Debugw("Disconnect failed", logger.FieldError, err)
		}
	}()
	data["credential_id"] = outcome.Winner.CredentialID()

	msg, extra, err := fn(ctx, execID, dev, transport)
	for k, v := range extra {
		data[k] = v
	}
	if err != nil {
		if ctx.Err() != nil && !tr.CancelRequested(execID) {
			tr.Cancel(trackCtx, execID, err.Error(), data)
		} else {
			tr.End(trackCtx, execID, false, err.Error(), data)
		}
		return err
	}
	tr.End(trackCtx, execID, true, msg, data)
	return nil
}

func (e *Executor) logAttempt(ctx context.Context, execID string, ev connect.AttemptEvent) {
	details := map[string]any{
		"attempt":       ev.Attempt,
		"candidate":     ev.CandidateIndex + 1,
		"credential_id": ev.Candidate.CredentialID(),
	}
	if tag := ev.Candidate.TagID(); tag != "" {
		details["tag_id"] = tag
	}
	entry := tracker.Entry{
		Level:    logger.LevelInfo,
		Category: tracker.CategoryConnection,
		Message:  fmt.Sprintf("attempt %d with credential %s succeeded", ev.Attempt, ev.Candidate.CredentialID()),
		Details:  details,
	}
	if ev.Err != nil {
		entry.Level = logger.LevelWarning
		entry.Message = fmt.Sprintf("attempt %d with credential %s failed (%s): %v",
			ev.Attempt, ev.Candidate.CredentialID(), ev.Class, ev.Err)
		details["class"] = ev.Class.String()
		if ev.Backoff > 0 {
			details["backoff_ms"] = ev.Backoff.Milliseconds()
		}
	}
	e.deps.Tracker.Log(ctx, execID, entry)
}

func jobData(job *async.Job, p Payload, dev *device.Device) map[string]any {
	data := map[string]any{"source": job.Source}
	if p.ScheduleID != "" {
		data["schedule_id"] = p.ScheduleID
	}
	if p.Reason != "" {
		data["reason"] = p.Reason
	}
	if p.Command != "" {
		data["command"] = p.Command
	}
	if dev != nil {
		data["host"] = dev.Address()
		data["platform"] = dev.Platform
	}
	return data
}

func outcomeData(o connect.Outcome) map[string]any {
	results := make([]any, 0, len(o.Results))
	for _, r := range o.Results {
		item := map[string]any{
			"credential_id": r.CredentialID,
			"attempts":      r.Attempts,
		}
		if r.TagID != "" {
			item["tag_id"] = r.TagID
		}
		if r.Err != nil {
			item["class"] = r.Class.String()
			item["error"] = r.Err.Error()
		}
		results = append(results, item)
	}
	return map[string]any{
		"attempts":   o.TotalAttempts(),
		"candidates": results,
	}
}
