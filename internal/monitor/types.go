// Package monitor observes sync jobs process-wide: rolling metrics, bounded
// histories, threshold alerts and performance reporting.
package monitor

import (
	"time"
)

// SyncMetrics holds the process-wide rolling counters. They are mutated
// incrementally on every lifecycle event and never reset while the process
// lives.
type SyncMetrics struct {
	TotalJobs     int64     `json:"total_jobs"`
	ActiveJobs    int64     `json:"active_jobs"`
	CompletedJobs int64     `json:"completed_jobs"`
	FailedJobs    int64     `json:"failed_jobs"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	LastSyncTime  time.Time `json:"last_sync_time"`

	DataSources int `json:"data_sources"`
	DataTargets int `json:"data_targets"`

	TotalConflicts    int64 `json:"total_conflicts"`
	ResolvedConflicts int64 `json:"resolved_conflicts"`
	PendingConflicts  int64 `json:"pending_conflicts"`

	Performance PerformanceMetrics `json:"performance"`
}

// PerformanceMetrics is the throughput block inside SyncMetrics.
type PerformanceMetrics struct {
	RecordsPerSecond  float64 `json:"records_per_second"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	ErrorRate         float64 `json:"error_rate"`
}

// SyncEvent is the monitor's view of one finished (or failed) sync job.
type SyncEvent struct {
	JobID            string        `json:"job_id"`
	SourceID         string        `json:"source_id"`
	TargetID         string        `json:"target_id"`
	Success          bool          `json:"success"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsFailed    int           `json:"records_failed"`
	ConflictCount    int           `json:"conflict_count"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// ConflictEvent is one entry in the conflict history.
type ConflictEvent struct {
	ConflictID string     `json:"conflict_id"`
	RecordID   string     `json:"record_id"`
	Field      string     `json:"field"`
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	Resolved   bool       `json:"resolved"`
	Strategy   string     `json:"strategy,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// HealthState classifies an overall or per-probe health result.
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)

// ProbeResult is the outcome of a single health probe.
type ProbeResult struct {
	Name    string        `json:"name"`
	State   HealthState   `json:"state"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// HealthStatus aggregates all probe results: healthy when every probe
// passes, degraded when some warn, unhealthy when any fail.
type HealthStatus struct {
	State     HealthState   `json:"state"`
	Probes    []ProbeResult `json:"probes"`
	CheckedAt time.Time     `json:"checked_at"`
}

// AlertType names a configured alert condition.
type AlertType string

const (
	AlertTypeSyncFailure            AlertType = "sync_failure"
	AlertTypeConflictThreshold      AlertType = "conflict_threshold"
	AlertTypePerformanceDegradation AlertType = "performance_degradation"
	AlertTypeDataIntegrity          AlertType = "data_integrity"
)

// AlertAction names a delivery channel for a triggered alert.
type AlertAction string

const (
	ActionEmail        AlertAction = "email"
	ActionWebhook      AlertAction = "webhook"
	ActionLog          AlertAction = "log"
	ActionNotification AlertAction = "notification"
)

// AlertStatus is the lifecycle state of a runtime alert.
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusResolved AlertStatus = "resolved"
)

// AlertConfig is a named, typed threshold condition with its delivery
// actions. Threshold units depend on the type: percent for sync_failure,
// counts for conflict_threshold and data_integrity, records/sec floor for
// performance_degradation.
type AlertConfig struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      AlertType     `json:"type"`
	Severity  string        `json:"severity"`
	Enabled   bool          `json:"enabled"`
	Threshold float64       `json:"threshold"`
	Actions   []AlertAction `json:"actions"`
}

// Alert is the runtime instance of a triggered condition. It auto-resolves
// when the condition stops holding on a later evaluation pass.
type Alert struct {
	ID          string                 `json:"id"`
	ConfigID    string                 `json:"config_id"`
	Name        string                 `json:"name"`
	Type        AlertType              `json:"type"`
	Severity    string                 `json:"severity"`
	Status      AlertStatus            `json:"status"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
}

// SystemStatus is one composed snapshot of the whole service.
type SystemStatus struct {
	Health       *HealthStatus `json:"health,omitempty"`
	Metrics      SyncMetrics   `json:"metrics"`
	ActiveAlerts []*Alert      `json:"active_alerts"`
	Uptime       time.Duration `json:"uptime"`
	Version      string        `json:"version"`
}

// PerformanceReport summarizes sync and conflict history over one window.
type PerformanceReport struct {
	Window             string         `json:"window"`
	GeneratedAt        time.Time      `json:"generated_at"`
	SyncCount          int            `json:"sync_count"`
	SuccessCount       int            `json:"success_count"`
	FailureCount       int            `json:"failure_count"`
	AvgDurationMs      float64        `json:"avg_duration_ms"`
	TotalRecords       int            `json:"total_records"`
	AvgRecordsPerSec   float64        `json:"avg_records_per_sec"`
	ConflictCount      int            `json:"conflict_count"`
	ResolutionRate     float64        `json:"resolution_rate"`
	ErrorRate          float64        `json:"error_rate"`
	TopErrors          []ErrorBucket  `json:"top_errors"`
	Recommendations    []string       `json:"recommendations"`
}

// ErrorBucket groups failures by the text before the first colon of the
// error message. Coarse on purpose: it buckets by error class, not by the
// variable details after the colon.
type ErrorBucket struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}
