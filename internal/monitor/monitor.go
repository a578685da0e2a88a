package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
	"github.com/matterhub/sync-engine/internal/metrics"
)

// Config controls the monitor's background loops and retention.
type Config struct {
	EvaluationInterval     time.Duration
	CleanupInterval        time.Duration
	HistoryRetention       time.Duration
	ResolvedAlertRetention time.Duration
	MaxHistoryEntries      int
	Version                string
}

// DefaultConfig returns the monitor defaults: 60s alert evaluation, hourly
// cleanup, 24h history, 7d resolved-alert retention, 1000 history entries.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval:     60 * time.Second,
		CleanupInterval:        time.Hour,
		HistoryRetention:       24 * time.Hour,
		ResolvedAlertRetention: 7 * 24 * time.Hour,
		MaxHistoryEntries:      1000,
		Version:                "1.0.0",
	}
}

// ActionDispatcher delivers a triggered alert over one channel. Delivery
// failures are logged by the monitor and never affect alert state.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action AlertAction, alert *Alert) error
}

// EventPublisher receives finalized sync events for downstream consumers.
// A nil publisher disables publishing.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, event *SyncEvent) error
	PublishAlert(ctx context.Context, alert *Alert) error
}

// HealthFunc produces the current health snapshot for status composition.
type HealthFunc func(ctx context.Context) *HealthStatus

// Monitor is the process-wide sync observer. It is an explicitly
// constructed, dependency-injected instance: construct one per process (or
// per test) and Close it on shutdown to stop the background loops.
type Monitor struct {
	config     Config
	logger     *zap.Logger
	collector  *metrics.Collector
	dispatcher ActionDispatcher
	publisher  EventPublisher
	healthFn   HealthFunc

	mu              sync.RWMutex
	metrics         SyncMetrics
	alertConfigs    map[string]*AlertConfig
	activeAlerts    map[string]*Alert
	resolvedAlerts  []*Alert
	syncHistory     []*SyncEvent
	conflictHistory []*ConflictEvent
	healthHistory   []*HealthStatus

	startedAt time.Time
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a monitor and starts its evaluation and cleanup loops.
func New(cfg Config, collector *metrics.Collector, dispatcher ActionDispatcher, publisher EventPublisher, logger *zap.Logger) *Monitor {
	m := &Monitor{
		config:       cfg,
		logger:       logger,
		collector:    collector,
		dispatcher:   dispatcher,
		publisher:    publisher,
		alertConfigs: make(map[string]*AlertConfig),
		activeAlerts: make(map[string]*Alert),
		startedAt:    time.Now(),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(2)
	go m.evaluationLoop()
	go m.cleanupLoop()

	return m
}

// SetHealthFunc wires the health probe used by SystemStatus. Set once at
// startup, before concurrent use.
func (m *Monitor) SetHealthFunc(fn HealthFunc) {
	m.healthFn = fn
}

// Close stops the background loops. Safe to call more than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.shutdown)
	})
	m.wg.Wait()
	m.logger.Info("Sync monitor stopped")
}

// LogSyncStart records a job entering the running state.
func (m *Monitor) LogSyncStart(jobID, sourceID, targetID string) {
	m.mu.Lock()
	m.metrics.TotalJobs++
	m.metrics.ActiveJobs++
	m.mu.Unlock()

	m.collector.SyncJobsTotal.Inc()
	m.collector.SyncJobsActive.Inc()

	m.logger.Info("Sync job started",
		zap.String("job_id", jobID),
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID))
}

// LogSyncComplete records a finished job, folds its duration and throughput
// into the rolling metrics and triggers an inline alert evaluation.
func (m *Monitor) LogSyncComplete(event *SyncEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.metrics.ActiveJobs--
	if event.Success {
		m.metrics.CompletedJobs++
	} else {
		m.metrics.FailedJobs++
	}
	m.metrics.LastSyncTime = event.Timestamp
	m.metrics.AvgDurationMs = metrics.RollingAverage(m.metrics.AvgDurationMs, float64(event.Duration.Milliseconds()))
	if seconds := event.Duration.Seconds(); seconds > 0 {
		throughput := float64(event.RecordsProcessed) / seconds
		m.metrics.Performance.RecordsPerSecond = metrics.RollingAverage(m.metrics.Performance.RecordsPerSecond, throughput)
	}
	m.metrics.Performance.AvgResponseTimeMs = m.metrics.AvgDurationMs
	m.recalculateErrorRateLocked()
	m.appendSyncHistoryLocked(event)
	m.mu.Unlock()

	m.collector.SyncJobsActive.Dec()
	if event.Success {
		m.collector.SyncJobsCompleted.Inc()
	} else {
		m.collector.SyncJobsFailed.Inc()
	}
	m.collector.SyncDuration.Observe(event.Duration.Seconds())
	m.collector.RecordsProcessed.Add(float64(event.RecordsProcessed))
	m.collector.RecordsFailed.Add(float64(event.RecordsFailed))

	m.publishEvent(event)
	m.EvaluateAlerts(context.Background())
}

// LogSyncError records a job that failed outright. Bookkeeping mirrors the
// completion path with a failure outcome.
func (m *Monitor) LogSyncError(event *SyncEvent) {
	event.Success = false
	m.logger.Error("Sync job failed",
		zap.String("job_id", event.JobID),
		zap.String("error", event.Error))
	m.LogSyncComplete(event)
}

// LogConflictDetected appends a conflict to the history and bumps the
// pending counter.
func (m *Monitor) LogConflictDetected(c *conflict.Conflict) {
	m.mu.Lock()
	m.metrics.TotalConflicts++
	m.metrics.PendingConflicts++
	m.conflictHistory = append(m.conflictHistory, &ConflictEvent{
		ConflictID: c.ID,
		RecordID:   c.RecordID,
		Field:      c.Field,
		Type:       string(c.Type),
		Severity:   string(c.Severity),
		DetectedAt: c.DetectedAt,
	})
	if len(m.conflictHistory) > m.config.MaxHistoryEntries {
		m.conflictHistory = m.conflictHistory[len(m.conflictHistory)-m.config.MaxHistoryEntries:]
	}
	m.mu.Unlock()

	m.collector.ConflictsDetected.WithLabelValues(string(c.Type)).Inc()
}

// LogConflictResolved moves a conflict from pending to resolved and updates
// its history entry.
func (m *Monitor) LogConflictResolved(conflictID string, strategy conflict.Strategy) {
	now := time.Now()

	m.mu.Lock()
	m.metrics.ResolvedConflicts++
	if m.metrics.PendingConflicts > 0 {
		m.metrics.PendingConflicts--
	}
	for i := len(m.conflictHistory) - 1; i >= 0; i-- {
		if m.conflictHistory[i].ConflictID == conflictID {
			m.conflictHistory[i].Resolved = true
			m.conflictHistory[i].Strategy = string(strategy)
			m.conflictHistory[i].ResolvedAt = &now
			break
		}
	}
	m.mu.Unlock()

	m.collector.ConflictsResolved.Inc()
}

// RecordHealthCheck appends a health snapshot to the bounded history.
func (m *Monitor) RecordHealthCheck(status *HealthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthHistory = append(m.healthHistory, status)
	if len(m.healthHistory) > m.config.MaxHistoryEntries {
		m.healthHistory = m.healthHistory[len(m.healthHistory)-m.config.MaxHistoryEntries:]
	}
}

// RegisterEndpoints records how many sources and targets are configured.
func (m *Monitor) RegisterEndpoints(sources, targets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.DataSources = sources
	m.metrics.DataTargets = targets
}

// Metrics returns a copy of the current rolling metrics.
func (m *Monitor) Metrics() SyncMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// SyncHistory returns a copy of the bounded sync history, newest last.
func (m *Monitor) SyncHistory() []*SyncEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]*SyncEvent, len(m.syncHistory))
	copy(history, m.syncHistory)
	return history
}

// SystemStatus composes health, metrics, active alerts, uptime and version
// into one snapshot.
func (m *Monitor) SystemStatus(ctx context.Context) *SystemStatus {
	var health *HealthStatus
	if m.healthFn != nil {
		health = m.healthFn(ctx)
		m.RecordHealthCheck(health)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]*Alert, 0, len(m.activeAlerts))
	for _, alert := range m.activeAlerts {
		active = append(active, alert)
	}

	return &SystemStatus{
		Health:       health,
		Metrics:      m.metrics,
		ActiveAlerts: active,
		Uptime:       time.Since(m.startedAt),
		Version:      m.config.Version,
	}
}

func (m *Monitor) recalculateErrorRateLocked() {
	finished := m.metrics.CompletedJobs + m.metrics.FailedJobs
	if finished == 0 {
		m.metrics.Performance.ErrorRate = 0
		return
	}
	m.metrics.Performance.ErrorRate = float64(m.metrics.FailedJobs) / float64(finished)
}

func (m *Monitor) appendSyncHistoryLocked(event *SyncEvent) {
	m.syncHistory = append(m.syncHistory, event)
	if len(m.syncHistory) > m.config.MaxHistoryEntries {
		m.syncHistory = m.syncHistory[len(m.syncHistory)-m.config.MaxHistoryEntries:]
	}
}

func (m *Monitor) publishEvent(event *SyncEvent) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.publisher.PublishSyncEvent(ctx, event); err != nil {
		m.logger.Warn("Failed to publish sync event",
			zap.String("job_id", event.JobID),
			zap.Error(err))
	}
}

// Background loops

func (m *Monitor) evaluationLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.EvaluateAlerts(context.Background())
		}
	}
}

func (m *Monitor) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup prunes history past the retention window and resolved alerts past
// their longer retention.
func (m *Monitor) cleanup() {
	now := time.Now()
	historyCutoff := now.Add(-m.config.HistoryRetention)
	alertCutoff := now.Add(-m.config.ResolvedAlertRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncHistory = pruneSyncHistory(m.syncHistory, historyCutoff)

	kept := m.conflictHistory[:0]
	for _, event := range m.conflictHistory {
		if event.DetectedAt.After(historyCutoff) {
			kept = append(kept, event)
		}
	}
	m.conflictHistory = kept

	keptHealth := m.healthHistory[:0]
	for _, status := range m.healthHistory {
		if status.CheckedAt.After(historyCutoff) {
			keptHealth = append(keptHealth, status)
		}
	}
	m.healthHistory = keptHealth

	keptAlerts := m.resolvedAlerts[:0]
	for _, alert := range m.resolvedAlerts {
		if alert.ResolvedAt != nil && alert.ResolvedAt.After(alertCutoff) {
			keptAlerts = append(keptAlerts, alert)
		}
	}
	m.resolvedAlerts = keptAlerts

	m.logger.Debug("History cleanup completed",
		zap.Int("sync_history", len(m.syncHistory)),
		zap.Int("conflict_history", len(m.conflictHistory)),
		zap.Int("resolved_alerts", len(m.resolvedAlerts)))
}

func pruneSyncHistory(history []*SyncEvent, cutoff time.Time) []*SyncEvent {
	kept := history[:0]
	for _, event := range history {
		if event.Timestamp.After(cutoff) {
			kept = append(kept, event)
		}
	}
	return kept
}
