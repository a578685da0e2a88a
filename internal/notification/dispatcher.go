// Package notification delivers triggered alerts over the configured
// channels: email, webhook, log, and in-app notification.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/monitor"
)

// Config holds delivery settings for the alert channels.
type Config struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	EmailFrom      string
	EmailTo        []string
	SMTPAddr       string
}

// Dispatcher fans a triggered alert out to one delivery channel at a time.
// It satisfies monitor.ActionDispatcher.
type Dispatcher struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewDispatcher creates an alert action dispatcher.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Dispatch delivers the alert over the named channel. Failures are returned
// to the monitor, which logs them; they never affect alert state.
func (d *Dispatcher) Dispatch(ctx context.Context, action monitor.AlertAction, alert *monitor.Alert) error {
	switch action {
	case monitor.ActionLog:
		return d.deliverLog(alert)
	case monitor.ActionWebhook:
		return d.deliverWebhook(ctx, alert)
	case monitor.ActionEmail:
		return d.deliverEmail(alert)
	case monitor.ActionNotification:
		return d.deliverNotification(alert)
	default:
		return fmt.Errorf("unsupported alert action: %s", action)
	}
}

func (d *Dispatcher) deliverLog(alert *monitor.Alert) error {
	d.logger.Warn("ALERT",
		zap.String("alert_id", alert.ID),
		zap.String("name", alert.Name),
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message))
	return nil
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, alert *monitor.Alert) error {
	if d.config.WebhookURL == "" {
		return errors.New("webhook action configured but no webhook URL set")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook delivery failed")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.logger.Debug("Webhook alert delivered", zap.String("alert_id", alert.ID))
	return nil
}

// deliverEmail logs the outbound message; actual SMTP delivery belongs to
// the platform's mail relay, which consumes these log entries in
// development environments.
func (d *Dispatcher) deliverEmail(alert *monitor.Alert) error {
	if len(d.config.EmailTo) == 0 {
		return errors.New("email action configured but no recipients set")
	}

	d.logger.Info("Email alert queued",
		zap.String("alert_id", alert.ID),
		zap.String("from", d.config.EmailFrom),
		zap.Strings("to", d.config.EmailTo),
		zap.String("subject", fmt.Sprintf("[%s] %s", alert.Severity, alert.Name)),
		zap.String("body", alert.Message))
	return nil
}

// deliverNotification records an in-app notification; the notification
// center is owned by the web backend and reads these from the event stream.
func (d *Dispatcher) deliverNotification(alert *monitor.Alert) error {
	d.logger.Info("In-app notification queued",
		zap.String("alert_id", alert.ID),
		zap.String("name", alert.Name),
		zap.String("message", alert.Message))
	return nil
}
