package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/notify"
	"github.com/teranos/netpulse/redact"
)

// Notifier receives a summary for every execution that ends through End.
// notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, userID string, s notify.Summary) notify.Result
}

// Options configure a Tracker
type Options struct {
	RetentionDays    int // default retention for new executions
	MaxCachedEntries int // per-session in-memory entry cap, oldest dropped first
}

// StartRequest describes an execution about to run
type StartRequest struct {
	JobID         string // correlation id, typically the async job id
	Kind          string
	DeviceID      string
	DeviceLabel   string
	UserID        string
	JobData       map[string]any
	RetentionDays int
}

// SessionSnapshot is a read-only copy of an active session
type SessionSnapshot struct {
	ExecutionID     string    `json:"execution_id"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	Kind            string    `json:"kind"`
	DeviceID        string    `json:"device_id,omitempty"`
	DeviceLabel     string    `json:"device_label,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	StartTime       time.Time `json:"start_time"`
	Entries         int       `json:"entries"`
	LastMessage     string    `json:"last_message,omitempty"`
	Attempts        int       `json:"attempts"`
	CancelRequested bool      `json:"cancel_requested"`
}

type session struct {
	mu              sync.Mutex
	exec            Execution
	deviceLabel     string
	entries         []LogEntry
	attempts        int
	cancelRequested bool
}

func (s *session) snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SessionSnapshot{
		ExecutionID:     s.exec.ID,
		CorrelationID:   s.exec.CorrelationID,
		Kind:            s.exec.Kind,
		DeviceID:        s.exec.DeviceID,
		DeviceLabel:     s.deviceLabel,
		UserID:          s.exec.UserID,
		StartTime:       s.exec.StartTime,
		Entries:         len(s.entries),
		Attempts:        s.attempts,
		CancelRequested: s.cancelRequested,
	}
	if n := len(s.entries); n > 0 {
		snap.LastMessage = s.entries[n-1].Message
	}
	return snap
}

// Tracker is the job session state machine. The session cache holds only
// running executions; the store is the source of truth for history.
type Tracker struct {
	store    Store
	redactor *redact.Redactor
	notifier Notifier
	opts     Options
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a tracker. notifier may be nil.
func New(store Store, r *redact.Redactor, notifier Notifier, opts Options, log *zap.SugaredLogger) *Tracker {
	if r == nil {
		r = redact.New()
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.MaxCachedEntries <= 0 {
		opts.MaxCachedEntries = 1000
	}
	return &Tracker{
		store:    store,
		redactor: r,
		notifier: notifier,
		opts:     opts,
		logger:   logger.Component(log, "pulse.tracker"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start creates a running execution, caches its session and writes the
// initial log entry. It returns the execution id.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Kind == "" {
		return "", errors.NewConfigurationError("job kind is required to start an execution")
	}
	retention := req.RetentionDays
	if retention <= 0 {
		retention = t.opts.RetentionDays
	}

	exec := Execution{
		ID:            uuid.NewString(),
		CorrelationID: req.JobID,
		Kind:          req.Kind,
		Status:        StatusRunning,
		StartTime:     t.now(),
		JobData:       t.redactor.RedactMap(req.JobData),
		DeviceID:      req.DeviceID,
		UserID:        req.UserID,
		RetentionDays: retention,
	}
	if err := t.store.CreateExecution(ctx, &exec); err != nil {
		return "", errors.Wrapf(err, "failed to start %s execution", req.Kind)
	}

	sess := &session{exec: exec, deviceLabel: t.redactor.RedactString(req.DeviceLabel)}
	t.mu.Lock()
	t.sessions[exec.ID] = sess
	t.mu.Unlock()

	t.logger.Infow("Job started",
		logger.FieldExecutionID, exec.ID,
		logger.FieldCorrelationID, exec.CorrelationID,
		logger.FieldJobKind, exec.Kind,
		logger.FieldDeviceID, exec.DeviceID)

	t.append(ctx, sess, LogEntry{
		ExecutionID: exec.ID,
		Timestamp:   exec.StartTime,
		Level:       logger.LevelInfo,
		Category:    CategoryLifecycle,
		Message:     "started",
		Details:     exec.JobData,
	})
	return exec.ID, nil
}

// Log records an entry for an execution. Running executions get it in the
// session cache as well as the store. Entries for executions missing from
// the cache are persisted if a durable record exists. It reports whether
// the entry was recorded; failures are logged, never returned.
func (t *Tracker) Log(ctx context.Context, executionID string, e Entry) bool {
	entry := LogEntry{
		ExecutionID: executionID,
		Timestamp:   t.now(),
		Level:       logger.ParseLevel(string(e.Level)),
		Category:    e.Category,
		Message:     t.redactor.RedactString(e.Message),
		Details:     t.redactor.RedactMap(e.Details),
	}

	if sess := t.lookup(executionID); sess != nil {
		return t.append(ctx, sess, entry)
	}

	if _, err := t.store.GetExecution(ctx, executionID); err != nil {
		if errors.IsNotFoundError(err) {
			t.logger.Warnw("Log for unknown execution dropped",
				logger.FieldExecutionID, executionID, "message", entry.Message)
		} else {
			t.logger.Errorw("Failed to look up execution for log entry",
				logger.FieldExecutionID, executionID, logger.FieldError, err)
		}
		return false
	}
	return t.append(ctx, nil, entry)
}

// append caches entry on sess when given and persists it
func (t *Tracker) append(ctx context.Context, sess *session, entry LogEntry) bool {
	if sess != nil {
		sess.mu.Lock()
		if len(sess.entries) >= t.opts.MaxCachedEntries {
			sess.entries = sess.entries[1:]
		}
		sess.entries = append(sess.entries, entry)
		if entry.Category == CategoryConnection {
			sess.attempts++
		}
		sess.mu.Unlock()
	}

	kv := []interface{}{logger.FieldExecutionID, entry.ExecutionID}
	if entry.Category != "" {
		kv = append(kv, "category", entry.Category)
	}
	for k, v := range entry.Details {
		kv = append(kv, k, v)
	}
	logger.Emit(t.logger, entry.Level, entry.Message, kv...)

	if err := t.store.AppendLogEntry(ctx, &entry); err != nil {
		t.logger.Errorw("Failed to persist log entry",
			logger.FieldExecutionID, entry.ExecutionID, logger.FieldError, err)
		return sess != nil
	}
	return true
}

// End moves an execution to its terminal state. success selects completed
// or failed; a failed end of a session with a pending cancel request
// becomes canceled. It returns false when the execution is unknown or
// already terminal, leaving the record untouched.
func (t *Tracker) End(ctx context.Context, executionID string, success bool, message string, data map[string]any) bool {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	return t.finish(ctx, executionID, status, message, data)
}

// Cancel ends an execution as canceled regardless of any cancel request
func (t *Tracker) Cancel(ctx context.Context, executionID string, message string, data map[string]any) bool {
	return t.finish(ctx, executionID, StatusCanceled, message, data)
}

func (t *Tracker) finish(ctx context.Context, executionID string, status Status, message string, data map[string]any) bool {
	now := t.now()
	log := t.logger.With(logger.FieldExecutionID, executionID)

	// Removal under the write lock makes a concurrent second End miss
	t.mu.Lock()
	sess := t.sessions[executionID]
	delete(t.sessions, executionID)
	t.mu.Unlock()

	var exec Execution
	var label string
	if sess != nil {
		sess.mu.Lock()
		exec = sess.exec
		label = sess.deviceLabel
		if status == StatusFailed && sess.cancelRequested {
			status = StatusCanceled
		}
		sess.mu.Unlock()
	} else {
		stored, err := t.store.GetExecution(ctx, executionID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				log.Warnw("End called for unknown execution")
			} else {
				log.Errorw("Failed to load execution to end it", logger.FieldError, err)
			}
			return false
		}
		if stored.Status.IsTerminal() {
			log.Warnw("End called for execution that already ended", logger.FieldStatus, string(stored.Status))
			return false
		}
		exec = *stored
		log.Infow("Ending execution from durable record", logger.FieldJobKind, exec.Kind)
	}

	message = t.redactor.RedactString(message)
	duration := now.Sub(exec.StartTime)
	if duration < 0 {
		duration = 0
	}
	patch := ExecutionPatch{
		Status:        status,
		EndTime:       now,
		DurationMs:    duration.Milliseconds(),
		ResultMessage: message,
		JobData:       mergeData(exec.JobData, t.redactor.RedactMap(data)),
	}

	if err := t.store.UpdateExecution(ctx, executionID, patch); err != nil {
		if errors.Is(err, ErrNotRunning) {
			log.Warnw("End called for execution that already ended")
			return false
		}
		// The session is gone; the record stays running until an operator
		// or a restart ends it from the durable record.
		log.Errorw("Failed to persist execution end", logger.FieldError, err, logger.FieldStatus, string(status))
	}

	level := logger.LevelInfo
	switch status {
	case StatusFailed:
		level = logger.LevelError
	case StatusCanceled:
		level = logger.LevelWarning
	}
	text := string(status)
	if message != "" {
		text = fmt.Sprintf("%s: %s", status, message)
	}
	t.append(ctx, nil, LogEntry{
		ExecutionID: executionID,
		Timestamp:   now,
		Level:       level,
		Category:    CategoryLifecycle,
		Message:     text,
		Details:     map[string]any{"duration_ms": patch.DurationMs},
	})

	t.notify(ctx, exec, label, status, message, duration, now)
	return true
}

func (t *Tracker) notify(ctx context.Context, exec Execution, label string, status Status, message string, duration time.Duration, at time.Time) {
	if t.notifier == nil || exec.UserID == "" {
		return
	}
	if label == "" {
		label = exec.DeviceID
	}
	res := t.notifier.Notify(ctx, exec.UserID, notify.Summary{
		ExecutionID: exec.ID,
		JobKind:     exec.Kind,
		DeviceLabel: label,
		Outcome:     notify.Outcome(status),
		Duration:    duration,
		Message:     message,
		FinishedAt:  at,
	})
	t.logger.Debugw("Notification handled",
		logger.FieldExecutionID, exec.ID,
		logger.FieldUserID, exec.UserID,
		"decision", string(res.Decision),
		"reason", res.Reason)
}

// RequestCancel flags a running execution for cooperative cancellation
func (t *Tracker) RequestCancel(executionID string) bool {
	sess := t.lookup(executionID)
	if sess == nil {
		t.logger.Warnw("Cancel requested for execution that is not running", logger.FieldExecutionID, executionID)
		return false
	}
	sess.mu.Lock()
	sess.cancelRequested = true
	sess.mu.Unlock()
	t.logger.Infow("Cancel requested", logger.FieldExecutionID, executionID)
	return true
}

// CancelRequested reports whether a running execution was asked to stop
func (t *Tracker) CancelRequested(executionID string) bool {
	sess := t.lookup(executionID)
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.cancelRequested
}

// CancelCheck returns a poll function for connect.Options.ShouldCancel
func (t *Tracker) CancelCheck(executionID string) func() bool {
	return func() bool { return t.CancelRequested(executionID) }
}

// Active returns snapshots of all running executions, oldest first
func (t *Tracker) Active() []SessionSnapshot {
	t.mu.RLock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}

// Session returns a snapshot of one running execution
func (t *Tracker) Session(executionID string) (SessionSnapshot, bool) {
	sess := t.lookup(executionID)
	if sess == nil {
		return SessionSnapshot{}, false
	}
	return sess.snapshot(), true
}

// Entries returns a copy of the cached entries of a running execution
func (t *Tracker) Entries(executionID string) []LogEntry {
	sess := t.lookup(executionID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]LogEntry(nil), sess.entries...)
}

func (t *Tracker) lookup(executionID string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[executionID]
}

func mergeData(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
