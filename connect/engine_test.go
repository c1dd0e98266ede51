package connect

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/errors"
)

type fakeRecorder struct {
	mu        sync.Mutex
	successes map[string]int
	failures  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{successes: map[string]int{}, failures: map[string]int{}}
}

func (f *fakeRecorder) RecordSuccess(_ context.Context, c credential.Candidate, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes[c.CredentialID()]++
	return nil
}

func (f *fakeRecorder) RecordFailure(_ context.Context, c credential.Candidate, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[c.CredentialID()]++
	return nil
}

// testEngine returns an engine that records sleeps instead of sleeping
func testEngine(rec Recorder) (*Engine, *[]time.Duration) {
	var sleeps []time.Duration
	e := NewEngine(rec, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	e.jitter = func(limit time.Duration) time.Duration { return limit - 1 }
	return e, &sleeps
}

func candidate(id string, priority int) credential.Candidate {
	return credential.Candidate{
		Credential: &credential.Credential{ID: id, Username: "admin"},
		Binding:    &credential.Binding{CredentialID: id, TagID: "core", Priority: priority},
	}
}

func defaultOpts() Options {
	return Options{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond, MaxJitter: time.Second}
}

func TestAlwaysTransientRetriesThreeTimesWithIncreasingSleeps(t *testing.T) {
	e, sleeps := testEngine(nil)
	calls := 0
	fn := func(context.Context, credential.Candidate) error {
		calls++
		return Transient(errors.New("timeout"))
	}

	result := e.AttemptCandidate(context.Background(), candidate("c1", 0), fn, defaultOpts())

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, ClassTransient, result.Class)
	assert.False(t, result.Succeeded())
	require.Len(t, *sleeps, 2, "no sleep after the final attempt")
	assert.Greater(t, (*sleeps)[1], (*sleeps)[0])
}

func TestBackoffWithRealJitterStrictlyIncreases(t *testing.T) {
	opts := Options{BaseBackoff: 50 * time.Millisecond, MaxJitter: time.Hour}
	limit := JitterLimit(opts)
	assert.Equal(t, 25*time.Millisecond, limit)

	for i := 0; i < 200; i++ {
		first := Backoff(opts.BaseBackoff, 1) + randomJitter(limit)
		second := Backoff(opts.BaseBackoff, 2) + randomJitter(limit)
		require.Greater(t, second, first)
	}
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, time.Duration(0), Backoff(base, 0))
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
	assert.Equal(t, time.Duration(0), Backoff(0, 3))
}

func TestJitterLimit(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, JitterLimit(Options{BaseBackoff: time.Second, MaxJitter: 10 * time.Millisecond}))
	assert.Equal(t, 500*time.Millisecond, JitterLimit(Options{BaseBackoff: time.Second, MaxJitter: time.Minute}))
	assert.Equal(t, time.Duration(0), JitterLimit(Options{BaseBackoff: time.Second}))
}

func TestTransientThenSuccess(t *testing.T) {
	rec := newFakeRecorder()
	e, sleeps := testEngine(rec)
	calls := 0
	fn := func(context.Context, credential.Candidate) error {
		calls++
		if calls < 2 {
			return Transient(errors.New("banner exchange failed"))
		}
		return nil
	}

	out := e.AttemptConnection(context.Background(), []credential.Candidate{candidate("c1", 10)}, fn, defaultOpts())
	require.True(t, out.Succeeded())
	assert.Equal(t, "c1", out.Winner.CredentialID())
	assert.Equal(t, 2, out.TotalAttempts())
	assert.Len(t, *sleeps, 1)
	assert.Equal(t, 1, rec.successes["c1"])
	assert.Equal(t, 0, rec.failures["c1"])
}

func TestAuthenticationFallsBackWithoutBackoff(t *testing.T) {
	rec := newFakeRecorder()
	e, sleeps := testEngine(rec)

	var order []string
	fn := func(_ context.Context, c credential.Candidate) error {
		order = append(order, c.CredentialID())
		if c.CredentialID() == "c-low" {
			return nil
		}
		return Authentication(errors.New("permission denied"))
	}

	candidates := []credential.Candidate{candidate("c-high", 100), candidate("c-mid", 50), candidate("c-low", 10)}
	out := e.AttemptConnection(context.Background(), candidates, fn, defaultOpts())

	require.True(t, out.Succeeded())
	assert.Equal(t, "c-low", out.Winner.CredentialID())
	assert.Equal(t, []string{"c-high", "c-mid", "c-low"}, order)
	assert.Empty(t, *sleeps)

	assert.Equal(t, 1, rec.failures["c-high"])
	assert.Equal(t, 1, rec.failures["c-mid"])
	assert.Equal(t, 0, rec.failures["c-low"])
	assert.Equal(t, 1, rec.successes["c-low"])

	require.Len(t, out.Results, 3)
	assert.Equal(t, ClassAuthentication, out.Results[0].Class)
	assert.Equal(t, 1, out.Results[0].Attempts)
}

func TestTransientExhaustionDebitsOncePerCandidate(t *testing.T) {
	rec := newFakeRecorder()
	e, _ := testEngine(rec)
	fn := func(_ context.Context, c credential.Candidate) error {
		if c.CredentialID() == "c-low" {
			return nil
		}
		return Transient(errors.New("i/o timeout"))
	}

	candidates := []credential.Candidate{candidate("c-high", 100), candidate("c-mid", 50), candidate("c-low", 10)}
	out := e.AttemptConnection(context.Background(), candidates, fn, defaultOpts())

	require.True(t, out.Succeeded())
	assert.Equal(t, 7, out.TotalAttempts())
	assert.Equal(t, 1, rec.failures["c-high"])
	assert.Equal(t, 1, rec.failures["c-mid"])
}

func TestAllCandidatesFailAggregates(t *testing.T) {
	rec := newFakeRecorder()
	e, _ := testEngine(rec)
	fn := func(_ context.Context, c credential.Candidate) error {
		if c.CredentialID() == "a" {
			return Authentication(errors.New("bad password"))
		}
		return errors.New("weird")
	}

	out := e.AttemptConnection(context.Background(), []credential.Candidate{candidate("a", 2), candidate("b", 1)}, fn, defaultOpts())
	require.False(t, out.Succeeded())
	require.Error(t, out.Err)
	assert.Nil(t, out.Winner)
	assert.False(t, out.Canceled)
	assert.True(t, errors.Is(out.Err, ErrAuthentication))
	assert.Contains(t, out.Err.Error(), "all 2 credential candidates failed")

	details := errors.FlattenDetails(out.Err)
	assert.Contains(t, details, "credential a: authentication after 1 attempt(s)")
	assert.Contains(t, details, "credential b: unexpected after 1 attempt(s)")

	require.Len(t, out.Results, 2)
	assert.Equal(t, ClassUnexpected, out.Results[1].Class)
	assert.Equal(t, 1, rec.failures["a"])
	assert.Equal(t, 1, rec.failures["b"])
}

func TestConfigurationErrorAborts(t *testing.T) {
	rec := newFakeRecorder()
	e, _ := testEngine(rec)
	calls := 0
	fn := func(context.Context, credential.Candidate) error {
		calls++
		return Misconfigured(errors.New("unsupported platform"))
	}

	out := e.AttemptConnection(context.Background(), []credential.Candidate{candidate("a", 2), candidate("b", 1)}, fn, defaultOpts())
	require.Error(t, out.Err)
	assert.True(t, errors.IsConfigurationError(out.Err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.failures)
}

func TestNoCandidates(t *testing.T) {
	e, _ := testEngine(nil)
	out := e.AttemptConnection(context.Background(), nil, nil, defaultOpts())
	assert.True(t, errors.IsConfigurationError(out.Err))
}

func TestCancellationBetweenAttempts(t *testing.T) {
	rec := newFakeRecorder()
	e, _ := testEngine(rec)

	canceled := false
	calls := 0
	fn := func(context.Context, credential.Candidate) error {
		calls++
		canceled = true // cancel requested while this attempt was in flight
		return Transient(errors.New("timeout"))
	}
	opts := defaultOpts()
	opts.ShouldCancel = func() bool { return canceled }

	out := e.AttemptConnection(context.Background(), []credential.Candidate{candidate("a", 2), candidate("b", 1)}, fn, opts)
	assert.True(t, out.Canceled)
	assert.True(t, errors.Is(out.Err, errors.ErrCanceled))
	assert.Equal(t, 1, calls, "in-flight attempt completes, no further attempts start")
	assert.Equal(t, 1, rec.failures["a"])
	assert.Equal(t, 0, rec.failures["b"])
}

func TestCancellationBetweenCandidates(t *testing.T) {
	e, _ := testEngine(nil)
	canceled := false
	var tried []string
	fn := func(_ context.Context, c credential.Candidate) error {
		tried = append(tried, c.CredentialID())
		canceled = true
		return Authentication(errors.New("denied"))
	}
	opts := defaultOpts()
	opts.ShouldCancel = func() bool { return canceled }

	out := e.AttemptConnection(context.Background(), []credential.Candidate{candidate("a", 2), candidate("b", 1)}, fn, opts)
	assert.True(t, out.Canceled)
	assert.Equal(t, []string{"a"}, tried)
}

func TestContextCanceledDuringSleep(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(context.Context, credential.Candidate) error {
		cancel()
		return Transient(errors.New("timeout"))
	}
	opts := Options{MaxRetries: 5, BaseBackoff: time.Hour}

	done := make(chan Outcome, 1)
	go func() { done <- e.AttemptConnection(ctx, []credential.Candidate{candidate("a", 1)}, fn, opts) }()

	select {
	case out := <-done:
		assert.True(t, out.Canceled)
		assert.Equal(t, 1, out.TotalAttempts())
	case <-time.After(5 * time.Second):
		t.Fatal("engine slept through cancellation")
	}
}

func TestOnAttemptObserver(t *testing.T) {
	e, _ := testEngine(nil)
	var events []AttemptEvent
	calls := 0
	fn := func(context.Context, credential.Candidate) error {
		calls++
		if calls == 1 {
			return Transient(errors.New("timeout"))
		}
		return nil
	}
	opts := defaultOpts()
	opts.OnAttempt = func(ev AttemptEvent) { events = append(events, ev) }

	e.AttemptConnection(context.Background(), []credential.Candidate{candidate("a", 1)}, fn, opts)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, ClassTransient, events[0].Class)
	assert.Greater(t, events[0].Backoff, time.Duration(0))
	assert.NoError(t, events[1].Err)
	assert.Equal(t, time.Duration(0), events[1].Backoff)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"explicit transient", Transient(errors.New("x")), ClassTransient},
		{"wrapped auth", errors.Wrap(Authentication(errors.New("x")), "ctx"), ClassAuthentication},
		{"misconfigured", Misconfigured(errors.New("x")), ClassConfiguration},
		{"config sentinel", errors.NewConfigurationError("bad port"), ClassConfiguration},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, ClassTransient},
		{"unreachable", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), ClassTransient},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "r1", IsNotFound: true}, ClassConfiguration},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "r1", IsTimeout: true}, ClassTransient},
		{"timeout sentinel", errors.Wrap(errors.ErrTimeout, "read"), ClassTransient},
		{"other", errors.New("boom"), ClassUnexpected},
		{"nil", nil, ClassUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "authentication", ClassAuthentication.String())
	assert.Equal(t, "configuration", ClassConfiguration.String())
	assert.Equal(t, "unexpected", ClassUnexpected.String())
}
