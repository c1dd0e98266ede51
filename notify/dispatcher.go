package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/util"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/redact"
)

// Decision records what the dispatcher did with a summary
type Decision string

const (
	DecisionSent    Decision = "sent"
	DecisionQueued  Decision = "queued"
	DecisionSkipped Decision = "skipped"
	DecisionFailed  Decision = "failed"
)

// Result of one Notify call
type Result struct {
	Decision Decision
	Reason   string
	Err      error
}

// Options configure a Dispatcher
type Options struct {
	MessageLimit int // result messages are truncated to this many runes
}

// Dispatcher gates summaries through user preferences and hands them to a
// channel or the digest queue.
type Dispatcher struct {
	channel  Channel
	prefs    PreferenceStore
	queue    DigestQueue
	redactor *redact.Redactor
	limit    int
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. A nil queue drops deferred items with
// a warning.
func NewDispatcher(channel Channel, prefs PreferenceStore, queue DigestQueue, r *redact.Redactor, opts Options, log *zap.SugaredLogger) *Dispatcher {
	if r == nil {
		r = redact.New()
	}
	limit := opts.MessageLimit
	if limit <= 0 {
		limit = 500
	}
	return &Dispatcher{
		channel:  channel,
		prefs:    prefs,
		queue:    queue,
		redactor: r,
		limit:    limit,
		logger:   logger.Component(log, "notify"),
		now:      time.Now,
	}
}

// Notify delivers s to userID if their preferences allow it. It never
// returns an error; the Result describes what happened.
func (d *Dispatcher) Notify(ctx context.Context, userID string, s Summary) Result {
	if userID == "" {
		return d.skip(s, "no recipient")
	}
	prefs, err := d.prefs.GetPreferences(ctx, userID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return d.skip(s, "no preferences")
		}
		d.logger.Warnw("Failed to load notification preferences",
			logger.FieldUserID, userID,
			logger.FieldExecutionID, s.ExecutionID,
			logger.FieldError, err)
		return Result{Decision: DecisionFailed, Err: err}
	}
	if !prefs.Enabled {
		return d.skip(s, "notifications disabled")
	}
	if !prefs.Allows(s.Outcome) {
		return d.skip(s, fmt.Sprintf("%s notifications disabled", s.Outcome))
	}

	s = d.prepare(s)

	if prefs.Frequency != FrequencyImmediate && prefs.Frequency != "" {
		return d.enqueue(ctx, prefs, s)
	}

	delivered, err := d.channel.Send(ctx, prefs.Address, s, *prefs)
	if err != nil || !delivered {
		d.logger.Warnw("Notification not delivered",
			logger.FieldUserID, userID,
			logger.FieldExecutionID, s.ExecutionID,
			logger.FieldError, err)
		return Result{Decision: DecisionFailed, Err: err}
	}
	d.logger.Debugw("Notification sent",
		logger.FieldUserID, userID,
		logger.FieldExecutionID, s.ExecutionID,
		logger.FieldStatus, string(s.Outcome))
	return Result{Decision: DecisionSent}
}

func (d *Dispatcher) skip(s Summary, reason string) Result {
	d.logger.Debugw("Notification skipped",
		logger.FieldExecutionID, s.ExecutionID,
		"reason", reason)
	return Result{Decision: DecisionSkipped, Reason: reason}
}

func (d *Dispatcher) enqueue(ctx context.Context, prefs *Preferences, s Summary) Result {
	if d.queue == nil {
		d.logger.Warnw("Digest queue not configured, dropping deferred notification",
			logger.FieldUserID, prefs.UserID,
			logger.FieldExecutionID, s.ExecutionID)
		return Result{Decision: DecisionSkipped, Reason: "no digest queue"}
	}
	item := DigestItem{
		UserID:      prefs.UserID,
		Address:     prefs.Address,
		Frequency:   prefs.Frequency,
		ExecutionID: s.ExecutionID,
		Summary:     s,
		CreatedAt:   d.now(),
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.logger.Warnw("Failed to queue digest notification",
			logger.FieldUserID, prefs.UserID,
			logger.FieldExecutionID, s.ExecutionID,
			logger.FieldError, err)
		return Result{Decision: DecisionFailed, Err: err}
	}
	return Result{Decision: DecisionQueued}
}

// prepare redacts and truncates the free-text parts of s
func (d *Dispatcher) prepare(s Summary) Summary {
	s.Message = util.Truncate(d.redactor.RedactString(s.Message), d.limit)
	s.DeviceLabel = d.redactor.RedactString(s.DeviceLabel)
	s.DurationMS = s.Duration.Milliseconds()
	return s
}

// DigestSource lists and acknowledges queued items
type DigestSource interface {
	PendingDigest(ctx context.Context, frequency Frequency) ([]DigestItem, error)
	MarkDelivered(ctx context.Context, ids []int64, at time.Time) error
}

// FlushDigest sends one combined summary per recipient for every pending
// item of frequency and marks delivered items. Returns the number of
// recipients reached.
func (d *Dispatcher) FlushDigest(ctx context.Context, src DigestSource, frequency Frequency) (int, error) {
	items, err := src.PendingDigest(ctx, frequency)
	if err != nil {
		return 0, err
	}

	type batch struct {
		prefs Preferences
		items []DigestItem
	}
	var order []string
	batches := make(map[string]*batch)
	for _, it := range items {
		key := it.UserID + "\x00" + it.Address
		b, ok := batches[key]
		if !ok {
			b = &batch{prefs: Preferences{UserID: it.UserID, Address: it.Address, Enabled: true, Frequency: frequency}}
			batches[key] = b
			order = append(order, key)
		}
		b.items = append(b.items, it)
	}

	reached := 0
	for _, key := range order {
		b := batches[key]
		digest := digestSummary(b.items, d.now())
		delivered, err := d.channel.Send(ctx, b.prefs.Address, digest, b.prefs)
		if err != nil || !delivered {
			d.logger.Warnw("Digest not delivered",
				logger.FieldUserID, b.prefs.UserID,
				logger.FieldCount, len(b.items),
				logger.FieldError, err)
			continue
		}
		ids := make([]int64, len(b.items))
		for i, it := range b.items {
			ids[i] = it.ID
		}
		if err := src.MarkDelivered(ctx, ids, d.now()); err != nil {
			return reached, err
		}
		reached++
	}
	return reached, nil
}

func digestSummary(items []DigestItem, at time.Time) Summary {
	counts := map[Outcome]int{}
	s := Summary{JobKind: "digest", FinishedAt: at}
	for _, it := range items {
		counts[it.Summary.Outcome]++
		s.Items = append(s.Items, it.Summary)
	}
	var parts []string
	for _, o := range []Outcome{OutcomeCompleted, OutcomeFailed, OutcomeCanceled} {
		if counts[o] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[o], o))
		}
	}
	s.Message = strings.Join(parts, ", ")
	s.Outcome = OutcomeCompleted
	if counts[OutcomeFailed]+counts[OutcomeCanceled] > 0 {
		s.Outcome = OutcomeFailed
	}
	return s
}
