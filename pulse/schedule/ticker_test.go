package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/pulse/async"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	names  []string
	reject bool
}

func (r *recordingDispatcher) Dispatch(_ context.Context, d *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return async.ErrQueueFull
	}
	r.names = append(r.names, d.Name)
	return nil
}

func (r *recordingDispatcher) dispatched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestTicker(t *testing.T, store *Store, d Dispatcher) *Ticker {
	cfg := DefaultTickerConfig()
	cfg.Location = time.UTC
	return NewTicker(store, d, nil, cfg, zaptest.NewLogger(t).Sugar())
}

func TestTickDispatchesDueAndAdvances(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, at("2024-03-10 00:00")))

	rec := &recordingDispatcher{}
	ticker := newTestTicker(t, store, rec)

	// not yet due
	res, err := ticker.Tick(ctx, at("2024-03-10 03:59"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)

	now := at("2024-03-10 04:00")
	res, err = ticker.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Due: 1, Dispatched: 1}, res)
	assert.Equal(t, []string{"nightly"}, rec.dispatched())

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(now))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(at("2024-03-11 04:00")))

	// a second tick at the same instant finds nothing due
	res, err = ticker.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Len(t, rec.dispatched(), 1)
}

func TestTickSpendsOneShotSchedules(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	start := at("2024-03-10 08:00")

	once := dailyBackup("once")
	once.Recurrence = Recurrence{Kind: KindOneTime, StartAt: &start}
	now := dailyBackup("now")
	now.Recurrence = Recurrence{Kind: KindImmediate}
	require.NoError(t, store.CreateDefinition(ctx, once, at("2024-03-10 00:00")))
	require.NoError(t, store.CreateDefinition(ctx, now, at("2024-03-10 00:00")))

	rec := &recordingDispatcher{}
	ticker := newTestTicker(t, store, rec)

	res, err := ticker.Tick(ctx, at("2024-03-10 09:00"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Dispatched)
	assert.ElementsMatch(t, []string{"once", "now"}, rec.dispatched())

	for _, id := range []string{once.ID, now.ID} {
		got, err := store.GetDefinition(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.NextRunAt, "one-shot schedule %s must not fire again", got.Name)
		assert.NotNil(t, got.LastRunAt)
	}

	res, err = ticker.Tick(ctx, at("2030-01-01 00:00"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
}

func TestTickRejectedDispatchStaysDue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(ctx, def, at("2024-03-10 00:00")))

	rec := &recordingDispatcher{reject: true}
	ticker := newTestTicker(t, store, rec)

	res, err := ticker.Tick(ctx, at("2024-03-10 05:00"))
	require.NoError(t, err)
	assert.Equal(t, TickResult{Due: 1, Rejected: 1}, res)

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)
	assert.True(t, got.NextRunAt.Equal(at("2024-03-10 04:00")))

	rec.reject = false
	res, err = ticker.Tick(ctx, at("2024-03-10 05:01"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
}

func TestTickClearsInvalidRecurrence(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()

	// weekly without a day cannot be created through the store
	_, err := conn.Exec(`
		INSERT INTO schedules (id, name, kind, recurrence_time, job_kind, enabled, next_run_at, created_at, updated_at)
		VALUES ('broken', 'broken', 'weekly', '04:00', 'config_backup', 1, ?, ?, ?)`,
		db.FormatTime(at("2024-03-10 04:00")), db.FormatTime(at("2024-03-01 00:00")), db.FormatTime(at("2024-03-01 00:00")))
	require.NoError(t, err)

	rec := &recordingDispatcher{}
	ticker := newTestTicker(t, store, rec)

	res, err := ticker.Tick(ctx, at("2024-03-10 05:00"))
	require.NoError(t, err)
	assert.Equal(t, TickResult{Due: 1, Invalid: 1}, res)
	assert.Empty(t, rec.dispatched())

	got, err := store.GetDefinition(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
}

func TestTickHonorsCanceledContext(t *testing.T) {
	store, _ := newTestStore(t)
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(context.Background(), def, at("2024-03-10 00:00")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recordingDispatcher{}
	_, err := newTestTicker(t, store, rec).Tick(ctx, at("2024-03-10 05:00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, rec.dispatched())
}

func TestTickerStartStop(t *testing.T) {
	store, _ := newTestStore(t)
	def := dailyBackup("nightly")
	require.NoError(t, store.CreateDefinition(context.Background(), def, at("2024-03-10 00:00")))

	done := make(chan string, 1)
	ticker := newTestTicker(t, store, DispatcherFunc(func(_ context.Context, d *Definition) error {
		select {
		case done <- d.Name:
		default:
		}
		return nil
	}))
	ticker.now = func() time.Time { return at("2024-03-10 05:00") }
	ticker.config.Interval = time.Hour

	ticker.Start(context.Background())
	select {
	case name := <-done:
		assert.Equal(t, "nightly", name)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not dispatch on start")
	}
	ticker.Stop()

	stats := ticker.GetStats()
	assert.EqualValues(t, 1, stats["ticks_since_start"])
}

func TestTickClearsUndispatchableSchedule(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	def := dailyBackup("nightly")
	def.JobKind = "unknown_kind"
	require.NoError(t, store.CreateDefinition(ctx, def, at("2024-03-10 00:00")))

	ticker := newTestTicker(t, store, DispatcherFunc(func(context.Context, *Definition) error {
		return errors.NewConfigurationError("no handler registered for handler name: unknown_kind")
	}))
	res, err := ticker.Tick(ctx, at("2024-03-10 05:00"))
	require.NoError(t, err)
	assert.Equal(t, TickResult{Due: 1, Invalid: 1}, res)

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
}

func TestTickQuietAfterDatabaseClosed(t *testing.T) {
	store, conn := newTestStore(t)
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := DefaultTickerConfig()
	cfg.Location = time.UTC
	ticker := NewTicker(store, &recordingDispatcher{}, nil, cfg, zap.New(core).Sugar())
	ticker.ctx = context.Background()

	require.NoError(t, conn.Close())
	ticker.tick(at("2024-03-10 04:00"))
	assert.Equal(t, 0, logs.Len())
}

func TestTickWarnsOnStoreFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.ExpectQuery("SELECT (.+) FROM schedules").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectQuery("SELECT (.+) FROM schedules").WillReturnError(errors.New("disk I/O error"))

	core, logs := observer.New(zapcore.WarnLevel)
	cfg := DefaultTickerConfig()
	cfg.Location = time.UTC
	ticker := NewTicker(NewStore(conn), &recordingDispatcher{}, nil, cfg, zap.New(core).Sugar())
	ticker.ctx = context.Background()

	ticker.tick(at("2024-03-10 04:00"))
	assert.Equal(t, 1, logs.FilterMessage("Pulse tick error").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to get next scheduled run").Len())
}
