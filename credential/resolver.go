package credential

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
)

// ErrNoTarget is returned when a device names neither a credential nor a tag
var ErrNoTarget = errors.Mark(errors.New("no credential or tag configured"), errors.ErrConfiguration)

// Resolver turns a Target into an ordered candidate list and feeds attempt
// outcomes back into the store.
type Resolver struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewResolver creates a resolver over store
func NewResolver(store Store, log *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, logger: logger.OrNop(log)}
}

// ResolveCandidates returns the candidates for t in attempt order.
//
// A single credential target yields one candidate. A tag yields every bound
// credential ordered by priority descending, then most recent success first
// (never-succeeded last), then the store's insertion order.
func (r *Resolver) ResolveCandidates(ctx context.Context, t Target) ([]Candidate, error) {
	switch {
	case t.CredentialID != "":
		c, err := r.store.GetCredential(ctx, t.CredentialID)
		if err != nil {
			if errors.IsNotFoundError(err) {
				return nil, errors.Mark(err, errors.ErrConfiguration)
			}
			return nil, err
		}
		return []Candidate{{Credential: c}}, nil

	case t.TagID != "":
		bound, err := r.store.ListBindings(ctx, t.TagID)
		if err != nil {
			return nil, err
		}
		if len(bound) == 0 {
			return nil, errors.NewConfigurationError("tag %s has no bound credentials", t.TagID)
		}
		candidates := make([]Candidate, len(bound))
		for i := range bound {
			candidates[i] = Candidate{Credential: &bound[i].Credential, Binding: &bound[i].Binding}
		}
		OrderCandidates(candidates)
		r.logger.Debugw("Resolved tag candidates",
			logger.FieldTagID, t.TagID,
			logger.FieldCount, len(candidates))
		return candidates, nil

	default:
		return nil, ErrNoTarget
	}
}

// OrderCandidates sorts in place by priority desc, last success desc with
// nil last, keeping the incoming order for ties.
func OrderCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority() != b.Priority() {
			return a.Priority() > b.Priority()
		}
		as, bs := lastSuccess(a), lastSuccess(b)
		switch {
		case as == nil || bs == nil:
			return as != nil && bs == nil
		default:
			return as.After(*bs)
		}
	})
}

func lastSuccess(c Candidate) *time.Time {
	if c.Binding == nil {
		return nil
	}
	return c.Binding.LastSuccessAt
}

// RecordSuccess credits the winning candidate
func (r *Resolver) RecordSuccess(ctx context.Context, c Candidate, at time.Time) error {
	return r.record(ctx, c, true, at)
}

// RecordFailure debits an abandoned candidate
func (r *Resolver) RecordFailure(ctx context.Context, c Candidate, at time.Time) error {
	return r.record(ctx, c, false, at)
}

func (r *Resolver) record(ctx context.Context, c Candidate, success bool, at time.Time) error {
	if c.Credential == nil {
		return errors.New("candidate has no credential")
	}
	err := r.store.RecordAttempt(ctx, Attempt{
		CredentialID: c.CredentialID(),
		TagID:        c.TagID(),
		Success:      success,
		At:           at,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to record attempt for credential %s", c.CredentialID())
	}

	// Keep the in-memory view consistent with the store
	if success {
		c.Credential.SuccessCount++
	} else {
		c.Credential.FailureCount++
	}
	if c.Binding != nil {
		t := at
		c.Binding.LastUsedAt = &t
		if success {
			c.Binding.SuccessCount++
			c.Binding.LastSuccessAt = &t
		} else {
			c.Binding.FailureCount++
			c.Binding.LastFailureAt = &t
		}
	}
	return nil
}
