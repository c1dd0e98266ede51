package commands

import (
	"database/sql"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teranos/netpulse/am"
	"github.com/teranos/netpulse/backup"
	"github.com/teranos/netpulse/connect"
	"github.com/teranos/netpulse/credential"
	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/device"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/httpclient"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/notify"
	"github.com/teranos/netpulse/pulse/async"
	"github.com/teranos/netpulse/pulse/schedule"
	"github.com/teranos/netpulse/pulse/tracker"
	"github.com/teranos/netpulse/redact"
)

// app is the process-wide set of services, built once per command
type app struct {
	cfg        *am.Config
	configPath string
	viper      *viper.Viper
	level      zap.AtomicLevel
	log        *zap.SugaredLogger
	db         *sql.DB
	closed     bool
}

// setup loads configuration, builds the root logger and opens the database
func setup(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, v, err := am.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	built, err := logger.New(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}

	conn, err := db.OpenWithMigrations(cfg.Database.Path, logger.Component(built.Sugar, "db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	return &app{cfg: cfg, configPath: configPath, viper: v, level: built.Level, log: built.Sugar, db: conn}, nil
}

func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.db.Close()
	_ = a.log.Sync()
}

// services is the wired execution path shared by the daemon and one-shot
// commands
type services struct {
	redactor   *redact.Redactor
	devices    *device.Store
	creds      *credential.SQLStore
	resolver   *credential.Resolver
	schedules  *schedule.Store
	executions *tracker.SQLStore
	prefs      *notify.SQLStore
	dispatcher *notify.Dispatcher
	tracker    *tracker.Tracker
	snapshots  *backup.SnapshotStore
	executor   *backup.Executor
	registry   *async.HandlerRegistry
}

func (a *app) services() (*services, error) {
	cfg := a.cfg
	s := &services{
		redactor:   redact.New(cfg.Redact.ExtraKeys...),
		devices:    device.NewStore(a.db),
		schedules:  schedule.NewStore(a.db),
		executions: tracker.NewSQLStore(a.db),
		prefs:      notify.NewSQLStore(a.db),
		snapshots:  backup.NewSnapshotStore(a.db),
		registry:   async.NewHandlerRegistry(),
	}

	var sealer *credential.Sealer
	if cfg.Secrets.Passphrase != "" {
		var err error
		if sealer, err = credential.NewSealer(cfg.Secrets.Passphrase, cfg.Secrets.Salt); err != nil {
			return nil, err
		}
	}
	s.creds = credential.NewSQLStore(a.db, sealer)
	s.resolver = credential.NewResolver(s.creds, logger.Component(a.log, "credential"))

	var channel notify.Channel = notify.NewLogChannel(a.log)
	if cfg.Notify.WebhookURL != "" {
		client := httpclient.New(httpclient.Options{
			Timeout:      time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
			AllowPrivate: cfg.Notify.AllowPrivate,
		})
		channel = notify.NewWebhookChannel(client, cfg.Notify.WebhookURL)
	}
	s.dispatcher = notify.NewDispatcher(channel, s.prefs, s.prefs, s.redactor,
		notify.Options{MessageLimit: cfg.Notify.MessageLimit}, a.log)

	s.tracker = tracker.New(s.executions, s.redactor, s.dispatcher,
		tracker.Options{RetentionDays: cfg.Retention.Days}, a.log)

	dialer, err := device.NewSSHDialer(device.SSHOptions{
		Timeout:        cfg.Connect.Timeout(),
		KnownHostsPath: cfg.Connect.KnownHostsPath,
	}, a.log)
	if err != nil {
		return nil, err
	}

	s.executor = backup.NewExecutor(backup.Deps{
		Devices:   s.devices,
		Resolver:  s.resolver,
		Engine:    connect.NewEngine(s.resolver, a.log),
		Dialer:    dialer,
		Tracker:   s.tracker,
		Snapshots: s.snapshots,
	}, backup.Options{
		Connect: connect.Options{
			MaxRetries:  cfg.Connect.MaxRetries,
			BaseBackoff: cfg.Connect.BaseBackoff(),
			MaxJitter:   cfg.Connect.MaxJitter(),
		},
	}, a.log)
	s.executor.Register(s.registry)
	return s, nil
}
