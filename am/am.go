// Package am holds the netpulse daemon configuration.
//
// Values come from TOML files merged in precedence order
// (system < user < project) and NETPULSE_* environment variables, on top of
// the defaults registered by SetDefaults.
package am

import "time"

// Config is the complete daemon configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Connect   ConnectConfig   `mapstructure:"connect" toml:"connect"`
	Redact    RedactConfig    `mapstructure:"redact" toml:"redact"`
	Retention RetentionConfig `mapstructure:"retention" toml:"retention"`
	Notify    NotifyConfig    `mapstructure:"notify" toml:"notify"`
	Secrets   SecretsConfig   `mapstructure:"secrets" toml:"secrets"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig configures the root logger. Level is hot-reloadable.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}

// PulseConfig configures the ticker and worker pool
type PulseConfig struct {
	Workers               int `mapstructure:"workers" toml:"workers"`                                 // concurrent job workers (default: 4)
	QueueSize             int `mapstructure:"queue_size" toml:"queue_size"`                           // pending jobs before Submit reports full
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds"` // how often due schedules are polled
	DueBatchSize          int `mapstructure:"due_batch_size" toml:"due_batch_size"`                   // max due schedules handled per tick
	MaxJobsPerMinute      int `mapstructure:"max_jobs_per_minute" toml:"max_jobs_per_minute"`         // 0 = unlimited
}

// ConnectConfig configures device connection attempts
type ConnectConfig struct {
	MaxRetries     int    `mapstructure:"max_retries" toml:"max_retries"`         // total attempts per candidate
	BaseBackoffMs  int    `mapstructure:"base_backoff_ms" toml:"base_backoff_ms"` // first backoff interval
	MaxJitterMs    int    `mapstructure:"max_jitter_ms" toml:"max_jitter_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`   // per-attempt connect timeout
	KnownHostsPath string `mapstructure:"known_hosts_path" toml:"known_hosts_path"` // empty = host keys are not verified
}

// RedactConfig extends the built-in sensitive key set
type RedactConfig struct {
	ExtraKeys []string `mapstructure:"extra_keys" toml:"extra_keys"`
}

// RetentionConfig configures the execution retention sweep
type RetentionConfig struct {
	Days                 int `mapstructure:"days" toml:"days"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes" toml:"sweep_interval_minutes"` // 0 = no sweeping
}

// NotifyConfig configures the outbound notification channel
type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url" toml:"webhook_url"` // empty = log channel only
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MessageLimit   int    `mapstructure:"message_limit" toml:"message_limit"` // result message truncation in summaries
	AllowPrivate   bool   `mapstructure:"allow_private" toml:"allow_private"` // permit webhook targets on private networks
}

// SecretsConfig configures at-rest sealing of credential secrets
type SecretsConfig struct {
	Passphrase string `mapstructure:"passphrase" toml:"passphrase"` // empty = secrets stored as given
	Salt       string `mapstructure:"salt" toml:"salt"`
}

// BaseBackoff returns the configured backoff base as a duration
func (c ConnectConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMs) * time.Millisecond
}

// MaxJitter returns the configured jitter cap as a duration
func (c ConnectConfig) MaxJitter() time.Duration {
	return time.Duration(c.MaxJitterMs) * time.Millisecond
}

// Timeout returns the per-attempt connect timeout
func (c ConnectConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TickerInterval returns the scheduler poll interval
func (c PulseConfig) TickerInterval() time.Duration {
	return time.Duration(c.TickerIntervalSeconds) * time.Second
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
