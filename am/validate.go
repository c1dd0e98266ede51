package am

import (
	"net/url"

	"github.com/teranos/netpulse/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Pulse: 0 workers means schedules are tracked but nothing executes
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.QueueSize < 1 {
		return errors.Newf("pulse.queue_size must be > 0, got %d", c.Pulse.QueueSize)
	}
	if c.Pulse.TickerIntervalSeconds <= 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be > 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.DueBatchSize <= 0 {
		return errors.Newf("pulse.due_batch_size must be > 0, got %d", c.Pulse.DueBatchSize)
	}
	if c.Pulse.MaxJobsPerMinute < 0 {
		return errors.Newf("pulse.max_jobs_per_minute must be >= 0, got %d", c.Pulse.MaxJobsPerMinute)
	}

	if c.Connect.MaxRetries < 1 {
		return errors.Newf("connect.max_retries must be >= 1, got %d", c.Connect.MaxRetries)
	}
	if c.Connect.BaseBackoffMs < 0 {
		return errors.Newf("connect.base_backoff_ms must be >= 0, got %d", c.Connect.BaseBackoffMs)
	}
	if c.Connect.MaxJitterMs < 0 {
		return errors.Newf("connect.max_jitter_ms must be >= 0, got %d", c.Connect.MaxJitterMs)
	}
	if c.Connect.TimeoutSeconds <= 0 {
		return errors.Newf("connect.timeout_seconds must be > 0, got %d", c.Connect.TimeoutSeconds)
	}

	if c.Retention.Days <= 0 {
		return errors.Newf("retention.days must be > 0, got %d", c.Retention.Days)
	}
	if c.Retention.SweepIntervalMinutes < 0 {
		return errors.Newf("retention.sweep_interval_minutes must be >= 0, got %d", c.Retention.SweepIntervalMinutes)
	}

	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil {
			return errors.Wrap(err, "notify.webhook_url is not a valid URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Newf("notify.webhook_url must use http or https, got %q", u.Scheme)
		}
	}
	if c.Notify.TimeoutSeconds <= 0 {
		return errors.Newf("notify.timeout_seconds must be > 0, got %d", c.Notify.TimeoutSeconds)
	}
	if c.Notify.MessageLimit < 0 {
		return errors.Newf("notify.message_limit must be >= 0, got %d", c.Notify.MessageLimit)
	}

	if c.Secrets.Passphrase != "" && c.Secrets.Salt == "" {
		return errors.New("secrets.salt cannot be empty when secrets.passphrase is set")
	}

	return nil
}
