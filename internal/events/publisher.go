// Package events publishes sync lifecycle and alert events to Kafka for
// downstream consumers (audit trail, analytics dashboard).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/monitor"
)

// Config holds the Kafka connection and topic settings.
type Config struct {
	Brokers    []string
	SyncTopic  string
	AlertTopic string
}

// Publisher writes sync and alert events to Kafka. It satisfies
// monitor.EventPublisher.
type Publisher struct {
	syncWriter  *kafka.Writer
	alertWriter *kafka.Writer
	logger      *zap.Logger
}

// NewPublisher creates a Kafka event publisher.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		syncWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.SyncTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		alertWriter: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.AlertTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// PublishSyncEvent publishes one finalized sync event keyed by job id.
func (p *Publisher) PublishSyncEvent(ctx context.Context, event *monitor.SyncEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal sync event")
	}

	err = p.syncWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.JobID),
		Value: payload,
		Time:  event.Timestamp,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish sync event")
	}

	p.logger.Debug("Sync event published",
		zap.String("job_id", event.JobID),
		zap.Bool("success", event.Success))
	return nil
}

// PublishAlert publishes an alert transition keyed by alert id.
func (p *Publisher) PublishAlert(ctx context.Context, alert *monitor.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert")
	}

	err = p.alertWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.ID),
		Value: payload,
		Time:  alert.TriggeredAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish alert")
	}

	p.logger.Debug("Alert event published",
		zap.String("alert_id", alert.ID),
		zap.String("status", string(alert.Status)))
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	if err := p.syncWriter.Close(); err != nil {
		return err
	}
	return p.alertWriter.Close()
}
