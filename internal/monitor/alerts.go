package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterAlertConfig adds or replaces an alert condition. Configs are
// evaluated on the periodic loop and inline after every lifecycle event.
func (m *Monitor) RegisterAlertConfig(cfg *AlertConfig) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	m.mu.Lock()
	m.alertConfigs[cfg.ID] = cfg
	m.mu.Unlock()

	m.logger.Info("Alert config registered",
		zap.String("config_id", cfg.ID),
		zap.String("name", cfg.Name),
		zap.String("type", string(cfg.Type)),
		zap.Float64("threshold", cfg.Threshold))
}

// RemoveAlertConfig deletes an alert condition by id.
func (m *Monitor) RemoveAlertConfig(configID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alertConfigs, configID)
}

// ActiveAlerts returns the currently firing alerts.
func (m *Monitor) ActiveAlerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alerts := make([]*Alert, 0, len(m.activeAlerts))
	for _, alert := range m.activeAlerts {
		alerts = append(alerts, alert)
	}
	return alerts
}

// EvaluateAlerts runs one evaluation pass over every enabled config. A
// newly true condition with no active alert creates one and fires its
// actions; an active alert whose condition went false auto-resolves.
func (m *Monitor) EvaluateAlerts(ctx context.Context) {
	m.mu.Lock()

	var toFire []*Alert
	var toResolve []*Alert

	for _, cfg := range m.alertConfigs {
		if !cfg.Enabled {
			continue
		}

		triggered, message, data := m.evaluateConditionLocked(cfg)
		existing, active := m.activeAlerts[cfg.ID]

		switch {
		case triggered && !active:
			alert := &Alert{
				ID:          uuid.New().String(),
				ConfigID:    cfg.ID,
				Name:        cfg.Name,
				Type:        cfg.Type,
				Severity:    cfg.Severity,
				Status:      AlertStatusActive,
				Message:     message,
				Data:        data,
				TriggeredAt: time.Now(),
			}
			m.activeAlerts[cfg.ID] = alert
			toFire = append(toFire, alert)

		case !triggered && active:
			now := time.Now()
			existing.Status = AlertStatusResolved
			existing.ResolvedAt = &now
			delete(m.activeAlerts, cfg.ID)
			m.resolvedAlerts = append(m.resolvedAlerts, existing)
			toResolve = append(toResolve, existing)
		}
	}

	activeCount := len(m.activeAlerts)
	m.mu.Unlock()

	m.collector.AlertsActive.Set(float64(activeCount))

	for _, alert := range toFire {
		m.collector.AlertsTriggered.WithLabelValues(string(alert.Type)).Inc()
		m.logger.Warn("Alert triggered",
			zap.String("alert_id", alert.ID),
			zap.String("name", alert.Name),
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message))
		m.fireActions(ctx, alert)
		m.publishAlert(ctx, alert)
	}

	for _, alert := range toResolve {
		m.logger.Info("Alert resolved",
			zap.String("alert_id", alert.ID),
			zap.String("name", alert.Name))
		m.publishAlert(ctx, alert)
	}
}

// evaluateConditionLocked computes the boolean trigger for one config.
// Caller holds m.mu.
func (m *Monitor) evaluateConditionLocked(cfg *AlertConfig) (bool, string, map[string]interface{}) {
	switch cfg.Type {
	case AlertTypeSyncFailure:
		finished := m.metrics.CompletedJobs + m.metrics.FailedJobs
		if finished == 0 {
			return false, "", nil
		}
		failurePct := m.metrics.Performance.ErrorRate * 100
		if failurePct > cfg.Threshold {
			return true,
				fmt.Sprintf("sync failure rate %.1f%% exceeds threshold %.1f%%", failurePct, cfg.Threshold),
				map[string]interface{}{"failure_rate_pct": failurePct, "failed_jobs": m.metrics.FailedJobs}
		}
		return false, "", nil

	case AlertTypeConflictThreshold:
		pending := float64(m.metrics.PendingConflicts)
		if pending > cfg.Threshold {
			return true,
				fmt.Sprintf("%d pending conflicts exceed threshold %.0f", m.metrics.PendingConflicts, cfg.Threshold),
				map[string]interface{}{"pending_conflicts": m.metrics.PendingConflicts}
		}
		return false, "", nil

	case AlertTypePerformanceDegradation:
		rps := m.metrics.Performance.RecordsPerSecond
		if rps > 0 && rps < cfg.Threshold {
			return true,
				fmt.Sprintf("throughput %.1f records/sec below floor %.1f", rps, cfg.Threshold),
				map[string]interface{}{"records_per_second": rps}
		}
		return false, "", nil

	case AlertTypeDataIntegrity:
		cutoff := time.Now().Add(-time.Hour)
		recent := 0
		for _, event := range m.conflictHistory {
			if event.DetectedAt.After(cutoff) {
				recent++
			}
		}
		if float64(recent) > cfg.Threshold {
			return true,
				fmt.Sprintf("%d conflicts detected in the last hour exceed threshold %.0f", recent, cfg.Threshold),
				map[string]interface{}{"conflicts_last_hour": recent}
		}
		return false, "", nil

	default:
		m.logger.Warn("Unknown alert type", zap.String("type", string(cfg.Type)))
		return false, "", nil
	}
}

// fireActions delivers a triggered alert over each configured channel.
// Delivery failures are logged and never affect alert state.
func (m *Monitor) fireActions(ctx context.Context, alert *Alert) {
	if m.dispatcher == nil {
		return
	}

	m.mu.RLock()
	cfg, ok := m.alertConfigs[alert.ConfigID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	for _, action := range cfg.Actions {
		if err := m.dispatcher.Dispatch(ctx, action, alert); err != nil {
			m.logger.Warn("Alert action delivery failed",
				zap.String("alert_id", alert.ID),
				zap.String("action", string(action)),
				zap.Error(err))
		}
	}
}

func (m *Monitor) publishAlert(ctx context.Context, alert *Alert) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishAlert(ctx, alert); err != nil {
		m.logger.Warn("Failed to publish alert event",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}
