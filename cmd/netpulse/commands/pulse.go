package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/netpulse/am"
	"github.com/teranos/netpulse/backup"
	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/notify"
	"github.com/teranos/netpulse/pulse/async"
	"github.com/teranos/netpulse/pulse/schedule"
	"github.com/teranos/netpulse/pulse/tracker"
)

// PulseCmd groups daemon commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Run the scheduler and worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the daemon in the foreground
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the netpulse daemon",
	Long: `Start the netpulse daemon in foreground mode.

The daemon will:
- Poll for due schedules and dispatch them to the worker pool
- Connect to devices, retrieve configuration and record each execution
- Deliver hourly and daily digest notifications
- Remove executions past their retention window
- Reload the log level when the config file changes

Run until interrupted (Ctrl+C); running jobs are canceled on shutdown.

Examples:
  netpulse pulse start
  netpulse pulse start --workers 8
  netpulse --config /etc/netpulse/config.toml pulse start`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("workers") {
			a.cfg.Pulse.Workers, _ = cmd.Flags().GetInt("workers")
		}

		s, err := a.services()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		poolCfg := async.DefaultWorkerPoolConfig()
		poolCfg.Workers = a.cfg.Pulse.Workers
		poolCfg.QueueSize = a.cfg.Pulse.QueueSize
		poolCfg.MaxJobsPerMinute = a.cfg.Pulse.MaxJobsPerMinute
		pool := async.NewWorkerPool(poolCfg, s.registry, a.log)
		pool.Start(ctx)

		tickerCfg := schedule.DefaultTickerConfig()
		tickerCfg.Interval = a.cfg.Pulse.TickerInterval()
		tickerCfg.BatchSize = a.cfg.Pulse.DueBatchSize
		ticker := schedule.NewTicker(s.schedules, backup.NewScheduleDispatcher(pool), pool, tickerCfg, a.log)
		ticker.Start(ctx)

		var sweeper *tracker.Sweeper
		if a.cfg.Retention.SweepIntervalMinutes > 0 {
			sweeper = tracker.NewSweeper(s.executions,
				time.Duration(a.cfg.Retention.SweepIntervalMinutes)*time.Minute, a.log)
			sweeper.Start(ctx)
		}

		digestDone := make(chan struct{})
		go func() {
			defer close(digestDone)
			runDigests(ctx, s.dispatcher, s.prefs, logger.Component(a.log, "notify.digest"))
		}()

		watcher := a.watchConfig()

		pterm.DefaultHeader.Println("netpulse daemon")
		pterm.Info.Printfln("Workers: %d (queue %d)", poolCfg.Workers, poolCfg.QueueSize)
		pterm.Info.Printfln("Scheduler interval: %v", tickerCfg.Interval)
		pterm.Info.Printfln("Handlers: %v", s.registry.Names())
		if sweeper != nil {
			pterm.Info.Printfln("Retention: %d days, swept every %d minutes",
				a.cfg.Retention.Days, a.cfg.Retention.SweepIntervalMinutes)
		}
		pterm.Info.Println("Press Ctrl+C to stop")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		pterm.Info.Println("Shutting down...")

		// Reverse order of startup
		if watcher != nil {
			_ = watcher.Stop()
		}
		if sweeper != nil {
			sweeper.Stop()
		}
		ticker.Stop()
		pool.Stop()
		cancel()
		<-digestDone

		processed, failed := pool.Stats()
		pterm.Success.Printfln("netpulse daemon stopped (%d jobs processed, %d failed)", processed, failed)
		return nil
	},
}

// watchConfig hot-reloads the log level. Returns nil when no single config
// file is in use.
func (a *app) watchConfig() *am.ConfigWatcher {
	path := a.configPath
	if path == "" {
		path = a.viper.ConfigFileUsed()
	}
	if path == "" {
		return nil
	}
	watcher, err := am.NewConfigWatcher(path, a.log)
	if err != nil {
		a.log.Warnw("Config watcher unavailable", "path", path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		return logger.SetLevel(a.level, cfg.Log.Level)
	})
	watcher.Start()
	return watcher
}

// runDigests flushes hourly and daily digests until ctx is done
func runDigests(ctx context.Context, d *notify.Dispatcher, src notify.DigestSource, log *zap.SugaredLogger) {
	hourly := time.NewTicker(time.Hour)
	defer hourly.Stop()
	daily := time.NewTicker(24 * time.Hour)
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hourly.C:
			flushDigest(ctx, d, src, notify.FrequencyHourly, log)
		case <-daily.C:
			flushDigest(ctx, d, src, notify.FrequencyDaily, log)
		}
	}
}

func flushDigest(ctx context.Context, d *notify.Dispatcher, src notify.DigestSource, freq notify.Frequency, log *zap.SugaredLogger) int {
	sent, err := d.FlushDigest(ctx, src, freq)
	if err != nil {
		if ctx.Err() == nil && !db.IsDatabaseClosed(err) {
			log.Warnw("Digest flush failed", "frequency", freq, logger.FieldError, err)
		}
		return 0
	}
	log.Debugw("Digest flushed", "frequency", freq, logger.FieldCount, sent)
	return sent
}

func init() {
	PulseStartCmd.Flags().Int("workers", 4, "Number of concurrent workers (overrides pulse.workers)")
	PulseCmd.AddCommand(PulseStartCmd)
}
