package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/logger"
)

// Cleaner deletes executions whose retention window has passed
type Cleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically removes expired executions
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper running every interval (default one hour)
func NewSweeper(cleaner Cleaner, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger.Component(log, "pulse.sweeper"),
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then every interval until Stop
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

// Sweep performs one cleanup pass
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.cleaner.CleanupExpired(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil && !db.IsDatabaseClosed(err) {
			s.logger.Errorw("Retention sweep failed", logger.FieldError, err)
		}
		return 0
	}
	if n > 0 {
		s.logger.Infow("Expired executions removed", logger.FieldCount, n)
	}
	return n
}
