package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "netpulse.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.queue_size", 64)
	v.SetDefault("pulse.ticker_interval_seconds", 30)
	v.SetDefault("pulse.due_batch_size", 100)
	v.SetDefault("pulse.max_jobs_per_minute", 0)

	v.SetDefault("connect.max_retries", 3)
	v.SetDefault("connect.base_backoff_ms", 2000)
	v.SetDefault("connect.max_jitter_ms", 500)
	v.SetDefault("connect.timeout_seconds", 15)
	v.SetDefault("connect.known_hosts_path", "")

	v.SetDefault("redact.extra_keys", []string{})

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.sweep_interval_minutes", 60)

	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("notify.message_limit", 500)
	v.SetDefault("notify.allow_private", false)

	v.SetDefault("secrets.salt", "netpulse")
}

// BindSensitiveEnvVars binds secrets to explicit environment variable names
// so they never need to live in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("secrets.passphrase", "NETPULSE_SECRETS_PASSPHRASE")
	v.BindEnv("notify.webhook_url", "NETPULSE_NOTIFY_WEBHOOK_URL")
	v.BindEnv("database.path", "NETPULSE_DATABASE_PATH", "NETPULSE_DB_PATH")
}
