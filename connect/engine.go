// Package connect drives device connection attempts across an ordered
// credential candidate list.
//
// Two levels of retry apply. Transient failures are retried on the same
// candidate with exponential backoff; authentication and unexpected failures
// move on to the next candidate at once. A configuration failure aborts
// everything. Worst-case attempts are len(candidates) * MaxRetries.
package connect

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
)

// ConnectFunc performs one connection attempt with candidate
type ConnectFunc func(ctx context.Context, candidate credential.Candidate) error

// Recorder receives attempt outcomes. *credential.Resolver satisfies it.
type Recorder interface {
	RecordSuccess(ctx context.Context, c credential.Candidate, at time.Time) error
	RecordFailure(ctx context.Context, c credential.Candidate, at time.Time) error
}

// Options bound a connection attempt
type Options struct {
	MaxRetries  int           // total attempts per candidate, minimum 1
	BaseBackoff time.Duration // sleep before the second attempt
	MaxJitter   time.Duration // jitter cap, further limited to BaseBackoff/2

	// ShouldCancel is polled between attempts and between candidates
	ShouldCancel func() bool

	// OnAttempt observes every attempt, successful or not
	OnAttempt func(AttemptEvent)
}

// AttemptEvent describes one finished attempt
type AttemptEvent struct {
	Candidate      credential.Candidate
	CandidateIndex int
	Attempt        int // 1-based within the candidate
	Err            error
	Class          Class
	Backoff        time.Duration // sleep scheduled before the next attempt, 0 if none
}

// CandidateResult summarises all attempts made with one candidate
type CandidateResult struct {
	CredentialID string
	TagID        string
	Attempts     int
	Class        Class // class of the last failure
	Err          error // nil on success
	Canceled     bool
}

// Succeeded reports whether the candidate connected
func (r CandidateResult) Succeeded() bool {
	return r.Err == nil && !r.Canceled && r.Attempts > 0
}

// Outcome is the aggregate result of AttemptConnection
type Outcome struct {
	Winner   *credential.Candidate
	Results  []CandidateResult
	Canceled bool
	Err      error // nil on success
}

// Succeeded reports whether any candidate connected
func (o Outcome) Succeeded() bool {
	return o.Winner != nil && o.Err == nil
}

// TotalAttempts sums attempts over all candidates
func (o Outcome) TotalAttempts() int {
	n := 0
	for _, r := range o.Results {
		n += r.Attempts
	}
	return n
}

// Engine runs connection attempts. It holds no per-attempt state and is
// safe for concurrent use.
type Engine struct {
	recorder Recorder
	logger   *zap.SugaredLogger
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(limit time.Duration) time.Duration
	now      func() time.Time
}

// NewEngine creates an engine. A nil recorder skips statistics.
func NewEngine(recorder Recorder, log *zap.SugaredLogger) *Engine {
	return &Engine{
		recorder: recorder,
		logger:   logger.OrNop(log),
		sleep:    sleepContext,
		jitter:   randomJitter,
		now:      time.Now,
	}
}

// Backoff returns the sleep after failed attempt number attempt (1-based)
// before the next one, excluding jitter.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<(attempt-1))
}

// JitterLimit is the exclusive upper bound on jitter for opts
func JitterLimit(opts Options) time.Duration {
	limit := opts.BaseBackoff / 2
	if opts.MaxJitter < limit {
		limit = opts.MaxJitter
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// AttemptCandidate retries one candidate up to opts.MaxRetries times,
// sleeping only between transient failures.
func (e *Engine) AttemptCandidate(ctx context.Context, c credential.Candidate, fn ConnectFunc, opts Options) CandidateResult {
	result := e.tryCandidate(ctx, 0, c, fn, opts)
	if result.Attempts > 0 && result.Class != ClassConfiguration {
		e.record(ctx, c, result.Succeeded())
	}
	return result
}

// AttemptConnection walks candidates in order until one connects.
//
// The winner is credited once; every candidate that was attempted and
// abandoned is debited exactly once. A configuration error stops the walk
// without debiting the credential.
func (e *Engine) AttemptConnection(ctx context.Context, candidates []credential.Candidate, fn ConnectFunc, opts Options) Outcome {
	var out Outcome
	if len(candidates) == 0 {
		out.Err = errors.NewConfigurationError("no credential candidates")
		return out
	}

	for i := range candidates {
		c := candidates[i]
		if e.canceled(ctx, opts) {
			out.Canceled = true
			break
		}

		result := e.tryCandidate(ctx, i, c, fn, opts)
		out.Results = append(out.Results, result)

		if result.Succeeded() {
			e.record(ctx, c, true)
			out.Winner = &candidates[i]
			return out
		}
		if result.Attempts > 0 && result.Class != ClassConfiguration {
			e.record(ctx, c, false)
		}
		if result.Canceled {
			out.Canceled = true
			break
		}
		if result.Class == ClassConfiguration {
			out.Err = errors.Wrapf(result.Err, "configuration error with credential %s", result.CredentialID)
			return out
		}

		e.logger.Infow("Falling back to next credential",
			logger.FieldCredentialID, result.CredentialID,
			logger.FieldErrorClass, result.Class.String(),
			logger.FieldAttempt, result.Attempts,
			"remaining", len(candidates)-i-1)
	}

	if out.Canceled {
		out.Err = errors.Wrap(errors.ErrCanceled, "connection attempt canceled")
		return out
	}
	out.Err = aggregate(out.Results)
	return out
}

func (e *Engine) tryCandidate(ctx context.Context, index int, c credential.Candidate, fn ConnectFunc, opts Options) CandidateResult {
	result := CandidateResult{CredentialID: c.CredentialID(), TagID: c.TagID()}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if e.canceled(ctx, opts) {
			result.Canceled = true
			return result
		}

		err := fn(ctx, c)
		result.Attempts = attempt
		if err == nil {
			result.Err = nil
			e.observe(opts, AttemptEvent{Candidate: c, CandidateIndex: index, Attempt: attempt})
			return result
		}

		class := Classify(err)
		result.Class = class
		result.Err = err

		var wait time.Duration
		if class == ClassTransient && attempt < maxRetries {
			wait = Backoff(opts.BaseBackoff, attempt)
			if limit := JitterLimit(opts); limit > 0 {
				wait += e.jitter(limit)
			}
		}
		e.observe(opts, AttemptEvent{
			Candidate:      c,
			CandidateIndex: index,
			Attempt:        attempt,
			Err:            err,
			Class:          class,
			Backoff:        wait,
		})

		if ctx.Err() != nil {
			result.Canceled = true
			return result
		}
		if class != ClassTransient {
			return result
		}
		if attempt == maxRetries {
			break
		}

		e.logger.Debugw("Transient connection failure, backing off",
			logger.FieldCredentialID, result.CredentialID,
			logger.FieldAttempt, attempt,
			logger.FieldBackoff, wait.String(),
			logger.FieldError, err)
		if err := e.sleep(ctx, wait); err != nil {
			result.Canceled = true
			return result
		}
	}
	return result
}

func (e *Engine) canceled(ctx context.Context, opts Options) bool {
	if ctx.Err() != nil {
		return true
	}
	return opts.ShouldCancel != nil && opts.ShouldCancel()
}

func (e *Engine) observe(opts Options, ev AttemptEvent) {
	if opts.OnAttempt != nil {
		opts.OnAttempt(ev)
	}
}

func (e *Engine) record(ctx context.Context, c credential.Candidate, success bool) {
	if e.recorder == nil {
		return
	}
	// Statistics are written even when the job context is already canceled
	rctx := context.WithoutCancel(ctx)
	var err error
	if success {
		err = e.recorder.RecordSuccess(rctx, c, e.now())
	} else {
		err = e.recorder.RecordFailure(rctx, c, e.now())
	}
	if err != nil {
		e.logger.Warnw("Failed to record credential attempt",
			logger.FieldCredentialID, c.CredentialID(),
			"success", success,
			logger.FieldError, err)
	}
}

// aggregate folds per-candidate failures into one error that keeps each
// candidate's class and attempt count as details.
func aggregate(results []CandidateResult) error {
	err := errors.Newf("all %d credential candidates failed", len(results))
	for _, r := range results {
		err = errors.WithDetailf(err, "credential %s: %s after %d attempt(s): %v",
			r.CredentialID, r.Class, r.Attempts, r.Err)
	}
	for _, r := range results {
		if r.Class == ClassAuthentication {
			return errors.Mark(err, ErrAuthentication)
		}
	}
	return err
}

// ErrAuthentication marks an aggregate failure where at least one candidate
// was rejected on credentials
var ErrAuthentication = errors.New("authentication failed")

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}
