package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/httpclient"
	"github.com/teranos/netpulse/logger"
)

// WebhookPayload is the JSON body posted to webhook endpoints
type WebhookPayload struct {
	Event   string  `json:"event"`
	UserID  string  `json:"user_id,omitempty"`
	Summary Summary `json:"summary"`
}

// WebhookChannel posts summaries as JSON. A preference address that is an
// http(s) URL is used as the endpoint; otherwise the default URL is.
type WebhookChannel struct {
	client     *httpclient.SaferClient
	defaultURL string
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(client *httpclient.SaferClient, defaultURL string) *WebhookChannel {
	return &WebhookChannel{client: client, defaultURL: defaultURL}
}

func (w *WebhookChannel) endpoint(address string) string {
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return address
	}
	return w.defaultURL
}

// Send posts the summary. Non-2xx responses are reported as not delivered.
func (w *WebhookChannel) Send(ctx context.Context, address string, s Summary, p Preferences) (bool, error) {
	target := w.endpoint(address)
	if target == "" {
		return false, errors.NewConfigurationError("no webhook endpoint for %s", p.UserID)
	}
	if _, err := w.client.ValidateURL(target); err != nil {
		return false, errors.Mark(errors.Wrap(err, "webhook endpoint rejected"), errors.ErrConfiguration)
	}

	body, err := json.Marshal(WebhookPayload{
		Event:   "job." + string(s.Outcome),
		UserID:  p.UserID,
		Summary: s,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, "failed to create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "netpulse")

	resp, err := w.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "webhook POST failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, errors.Newf("webhook returned %d", resp.StatusCode)
	}
	return true, nil
}

// LogChannel writes summaries to the log. Used when no webhook is configured.
type LogChannel struct {
	logger *zap.SugaredLogger
}

// NewLogChannel creates a log channel
func NewLogChannel(log *zap.SugaredLogger) *LogChannel {
	return &LogChannel{logger: logger.Component(log, "notify.log")}
}

// Send always delivers
func (l *LogChannel) Send(_ context.Context, address string, s Summary, p Preferences) (bool, error) {
	l.logger.Infow("Job notification",
		logger.FieldUserID, p.UserID,
		"address", address,
		logger.FieldExecutionID, s.ExecutionID,
		logger.FieldJobKind, s.JobKind,
		logger.FieldStatus, string(s.Outcome),
		logger.FieldDurationMS, s.DurationMS,
		"device", s.DeviceLabel,
		"message", s.Message,
		logger.FieldCount, len(s.Items))
	return true, nil
}
