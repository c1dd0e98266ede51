package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/pulse/async"
)

// Dispatcher hands a due definition to the execution path. It must not
// block on device I/O. A configuration error clears the next run; any other
// error leaves the definition due so the next tick retries it.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *Definition) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, d *Definition) error

// Dispatch calls f
func (f DispatcherFunc) Dispatch(ctx context.Context, d *Definition) error { return f(ctx, d) }

// MetricsSource reports worker pool load for ticker status lines
type MetricsSource interface {
	GetSystemMetrics() async.SystemMetrics
}

// TickerConfig contains configuration for the schedule ticker
type TickerConfig struct {
	Interval  time.Duration  // how often due schedules are polled
	BatchSize int            // max schedules dispatched per tick
	Location  *time.Location // recurrence times are interpreted here
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
		Location:  time.Local,
	}
}

// TickResult summarises one pass over due schedules
type TickResult struct {
	Due        int
	Dispatched int
	Rejected   int // dispatcher refused; left due
	Invalid    int // recurrence invalid; next run cleared
}

// Ticker polls for due schedules and dispatches them. It performs no device
// I/O itself.
type Ticker struct {
	store      *Store
	dispatcher Dispatcher
	metrics    MetricsSource
	config     TickerConfig
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastStatus      string
}

// NewTicker creates a ticker. metrics may be nil.
func NewTicker(store *Store, dispatcher Dispatcher, metrics MetricsSource, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultTickerConfig().BatchSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Ticker{
		store:      store,
		dispatcher: dispatcher,
		metrics:    metrics,
		config:     cfg,
		now:        time.Now,
		logger:     logger.Component(log, "pulse.ticker"),
	}
}

// Start begins the ticker loop. Due schedules are checked once immediately.
func (t *Ticker) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Pulse ticker started", "interval", t.config.Interval.String(), "location", t.config.Location.String())
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Pulse ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.tick(t.now())
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.tick(t.now())
		}
	}
}

func (t *Ticker) tick(at time.Time) {
	t.mu.Lock()
	t.lastTickAt = at
	t.ticksSinceStart++
	ticks := t.ticksSinceStart
	t.mu.Unlock()

	if _, err := t.Tick(t.ctx, at); err != nil && !t.stopping(err) {
		t.logger.Warnw("Pulse tick error", logger.FieldError, err, "tick", ticks)
	}
	t.logStatus(at)
}

// Tick dispatches every schedule due at now and persists its next run
func (t *Ticker) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	now = now.In(t.config.Location)
	var result TickResult

	due, err := t.store.ListDue(ctx, now, t.config.BatchSize)
	if err != nil {
		return result, errors.Wrap(err, "failed to list due schedules")
	}
	result.Due = len(due)

	for _, def := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := t.logger.With(logger.FieldScheduleID, def.ID, "schedule", def.Name)

		if err := def.Validate(); err != nil {
			result.Invalid++
			log.Errorw("Schedule has invalid recurrence, disabling next run", logger.FieldError, err)
			if uerr := t.store.UpdateAfterDispatch(ctx, def.ID, nil, nil); uerr != nil {
				log.Warnw("Failed to clear next run", logger.FieldError, uerr)
			}
			continue
		}

		if err := t.dispatcher.Dispatch(ctx, def); err != nil {
			if errors.IsConfigurationError(err) {
				result.Invalid++
				log.Errorw("Schedule cannot be dispatched, disabling next run", logger.FieldError, err)
				if uerr := t.store.UpdateAfterDispatch(ctx, def.ID, nil, nil); uerr != nil {
					log.Warnw("Failed to clear next run", logger.FieldError, uerr)
				}
				continue
			}
			result.Rejected++
			log.Warnw("Dispatch rejected, schedule stays due", logger.FieldError, err)
			continue
		}
		result.Dispatched++

		var next *time.Time
		if !def.Kind.Spent() {
			next = ComputeNextRun(def.Recurrence, now)
		}
		lastRun := now
		if err := t.store.UpdateAfterDispatch(ctx, def.ID, &lastRun, next); err != nil {
			// The schedule would fire again next tick
			log.Errorw("Failed to persist next run after dispatch", logger.FieldError, err)
			continue
		}

		kv := []any{logger.FieldJobKind, def.JobKind, logger.FieldDeviceID, def.DeviceID}
		if next != nil {
			kv = append(kv, logger.FieldNextRun, next.Format(time.RFC3339))
		}
		log.Infow("Schedule dispatched", kv...)
	}
	return result, nil
}

// stopping reports whether err is a side effect of shutdown: the loop
// context ended or the database was closed under it
func (t *Ticker) stopping(err error) bool {
	return t.ctx.Err() != nil || db.IsDatabaseClosed(err)
}

// logStatus logs the next due schedule when it or the pool load changes
func (t *Ticker) logStatus(now time.Time) {
	next, err := t.store.NextDue(t.ctx)
	if err != nil {
		if !t.stopping(err) {
			t.logger.Warnw("Failed to get next scheduled run", logger.FieldError, err)
		}
		return
	}

	status := "Pulse - no scheduled runs"
	if next != nil && next.NextRunAt != nil {
		wait := next.NextRunAt.Sub(now)
		if wait < 0 {
			wait = 0
		}
		status = fmt.Sprintf("Pulse - next run '%s' (%s) in %s", next.Name, next.JobKind, wait.Round(time.Minute))
	}
	key := status
	msg := status
	if t.metrics != nil {
		m := t.metrics.GetSystemMetrics()
		load := fmt.Sprintf(" │ Workers: %d/%d active, %d queued", m.WorkersActive, m.WorkersTotal, m.JobsQueued)
		key += load
		msg += load + fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)", m.MemoryUsedGB, m.MemoryTotalGB, m.MemoryPercent)
	}

	// Memory drifts every tick, so only schedule and load changes are logged
	t.mu.Lock()
	changed := key != t.lastStatus
	t.lastStatus = key
	t.mu.Unlock()
	if changed {
		t.logger.Infow(msg)
	}
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.config.Interval,
	}
}
