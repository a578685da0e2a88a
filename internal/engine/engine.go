// Package engine orchestrates end-to-end synchronization passes: read both
// sides, detect and resolve conflicts, batch-write with bounded retry, and
// report lifecycle events to the monitor.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
	"github.com/matterhub/sync-engine/internal/metrics"
	"github.com/matterhub/sync-engine/internal/monitor"
	"github.com/matterhub/sync-engine/internal/source"
	"github.com/matterhub/sync-engine/internal/transform"
)

// Config controls batching, retries and caching for the engine.
type Config struct {
	BatchSize       int
	MaxRetries      int
	BackoffBase     time.Duration
	CallTimeout     time.Duration
	ResultCacheTTL  time.Duration
	DefaultStrategy conflict.Strategy
	MaxHistory      int
}

// DefaultConfig returns the engine defaults: batches of 100, 3 retries with
// 2^attempt-second backoff, 30s per-call timeout, 1h result cache TTL.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		MaxRetries:      3,
		BackoffBase:     time.Second,
		CallTimeout:     30 * time.Second,
		ResultCacheTTL:  time.Hour,
		DefaultStrategy: conflict.StrategySourceWins,
		MaxHistory:      1000,
	}
}

// SyncResult is the immutable outcome of one synchronization attempt.
type SyncResult struct {
	ID               string                 `json:"id"`
	SourceID         string                 `json:"source_id"`
	TargetID         string                 `json:"target_id"`
	Success          bool                   `json:"success"`
	RecordsProcessed int                    `json:"records_processed"`
	RecordsSucceeded int                    `json:"records_succeeded"`
	RecordsFailed    int                    `json:"records_failed"`
	Conflicts        []*conflict.Conflict   `json:"conflicts"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	DurationMs       int64                  `json:"duration_ms"`
	Error            string                 `json:"error,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ResultRepository persists finalized sync results. Optional; a nil
// repository disables persistence.
type ResultRepository interface {
	SaveResult(ctx context.Context, result *SyncResult) error
	SaveConflicts(ctx context.Context, jobID string, conflicts []*conflict.Conflict) error
}

// Pinger is the database reachability probe dependency.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Engine runs synchronization jobs. Multiple jobs may run concurrently;
// each job's stages stay strictly ordered while shared state (cache,
// history, rolling stats) is mutex-guarded.
type Engine struct {
	config    Config
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	cache     CacheStore
	monitor   *monitor.Monitor
	collector *metrics.Collector
	repo      ResultRepository
	pinger    Pinger
	logger    *zap.Logger

	readers      map[string]source.Reader
	writers      map[string]source.Writer
	transformers map[string]*transform.Transformer

	mu            sync.RWMutex
	history       []*SyncResult
	avgThroughput float64
	active        bool
}

// New creates a sync engine. The monitor and collector are required; the
// repository and pinger are optional.
func New(
	cfg Config,
	detector *conflict.Detector,
	resolver *conflict.Resolver,
	cache CacheStore,
	mon *monitor.Monitor,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:       cfg,
		detector:     detector,
		resolver:     resolver,
		cache:        cache,
		monitor:      mon,
		collector:    collector,
		logger:       logger,
		readers:      make(map[string]source.Reader),
		writers:      make(map[string]source.Writer),
		transformers: make(map[string]*transform.Transformer),
		active:       true,
	}
}

// RegisterReader wires the reader for an endpoint type.
func (e *Engine) RegisterReader(endpointType string, reader source.Reader) {
	e.readers[endpointType] = reader
}

// RegisterWriter wires the writer for an endpoint type.
func (e *Engine) RegisterWriter(endpointType string, writer source.Writer) {
	e.writers[endpointType] = writer
}

// RegisterTransformer attaches a transformer applied to the source records
// of every sync against the named source endpoint.
func (e *Engine) RegisterTransformer(sourceID string, t *transform.Transformer) {
	e.transformers[sourceID] = t
}

// SetRepository wires optional sync-result persistence.
func (e *Engine) SetRepository(repo ResultRepository) {
	e.repo = repo
}

// SetPinger wires the database reachability health probe.
func (e *Engine) SetPinger(p Pinger) {
	e.pinger = p
}

// Shutdown marks the engine inactive so health checks fail closed.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

// Sync runs one end-to-end synchronization pass from source to target.
// Read and detection failures abort the job and are returned to the caller
// after being recorded; batch write failures degrade the result's counts
// without aborting it.
func (e *Engine) Sync(ctx context.Context, src, tgt *source.Endpoint) (*SyncResult, error) {
	jobID := uuid.New().String()
	startTime := time.Now()

	result := &SyncResult{
		ID:        jobID,
		SourceID:  src.ID,
		TargetID:  tgt.ID,
		StartTime: startTime,
		Metadata:  make(map[string]interface{}),
	}

	e.monitor.LogSyncStart(jobID, src.ID, tgt.ID)
	e.logger.Info("Starting sync job",
		zap.String("job_id", jobID),
		zap.String("source", src.Name),
		zap.String("target", tgt.Name))

	// Step 1: read both sides.
	sourceRecords, err := e.readEndpoint(ctx, src)
	if err != nil {
		return e.finalizeFailure(ctx, result, fmt.Errorf("source read failed: %w", err))
	}
	targetRecords, err := e.readEndpoint(ctx, tgt)
	if err != nil {
		return e.finalizeFailure(ctx, result, fmt.Errorf("target read failed: %w", err))
	}

	// Step 2: transform the source stream when a transformer is configured.
	if t, ok := e.transformers[src.ID]; ok {
		sourceRecords, err = t.Apply(sourceRecords)
		if err != nil {
			return e.finalizeFailure(ctx, result, fmt.Errorf("transformation failed: %w", err))
		}
	}

	// Step 3: detect conflicts. Detection errors abort the job.
	conflicts, err := e.detector.Detect(sourceRecords, targetRecords)
	if err != nil {
		return e.finalizeFailure(ctx, result, fmt.Errorf("conflict detection failed: %w", err))
	}
	result.Conflicts = conflicts
	for _, c := range conflicts {
		e.monitor.LogConflictDetected(c)
	}

	// Step 4: resolve every conflict with the target's strategy. A failed
	// resolution degrades to a nil value with an explanatory note instead
	// of aborting the run.
	strategy := e.strategyFor(tgt)
	resolved := e.resolveConflicts(ctx, conflicts, strategy, tgt.Type)
	result.Metadata["conflicts_resolved"] = len(resolved)
	result.Metadata["resolution_strategy"] = string(strategy)

	// Step 5: fold the accepted values into the outgoing records, then
	// batch-write them with bounded retry.
	outgoing := foldResolutions(sourceRecords, resolved)
	batchSize := e.batchSizeFor(tgt)
	succeeded, failed, retries := e.writeBatches(ctx, tgt, outgoing, batchSize)
	result.RecordsProcessed = len(sourceRecords)
	result.RecordsSucceeded = succeeded
	result.RecordsFailed = failed
	result.Metadata["batch_size"] = batchSize
	result.Metadata["retry_count"] = retries

	// Step 6: finalize, cache and report. Partial write failure is not job
	// failure.
	result.Success = true
	result.EndTime = time.Now()
	result.DurationMs = result.EndTime.Sub(result.StartTime).Milliseconds()

	e.recordResult(ctx, result)
	e.monitor.LogSyncComplete(syncEvent(result))

	e.logger.Info("Sync job completed",
		zap.String("job_id", jobID),
		zap.Int("records_processed", result.RecordsProcessed),
		zap.Int("records_failed", result.RecordsFailed),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int64("duration_ms", result.DurationMs))

	return result, nil
}

// readEndpoint dispatches to the reader registered for the endpoint type.
// File and external-service endpoints have no functional reader yet and
// read as empty with a warning.
func (e *Engine) readEndpoint(ctx context.Context, endpoint *source.Endpoint) ([]conflict.Record, error) {
	switch endpoint.Type {
	case source.TypeFile, source.TypeExternalService:
		e.logger.Warn("Endpoint type has no functional reader, returning no records",
			zap.String("endpoint_id", endpoint.ID),
			zap.String("type", endpoint.Type))
		return nil, nil
	}

	reader, ok := e.readers[endpoint.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported endpoint type: %s", endpoint.Type)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	return reader.Read(callCtx, endpoint)
}

// resolveConflicts resolves each conflict in order, returning the conflicts
// whose resolutions succeeded so their values can be folded into the write.
func (e *Engine) resolveConflicts(ctx context.Context, conflicts []*conflict.Conflict, strategy conflict.Strategy, targetType string) []*conflict.Conflict {
	var resolved []*conflict.Conflict
	for _, c := range conflicts {
		_, err := e.resolver.Resolve(c, strategy)
		if err != nil {
			c.Resolution = &conflict.Resolution{
				Strategy:      strategy,
				ResolvedValue: nil,
				ResolvedAt:    time.Now(),
				ResolvedBy:    "automatic",
				Notes:         fmt.Sprintf("resolution failed: %v", err),
			}
			e.logger.Warn("Conflict resolution failed",
				zap.String("conflict_id", c.ID),
				zap.Error(err))
			continue
		}

		if err := e.resolver.ApplyResolution(ctx, c, targetType); err != nil {
			e.logger.Warn("Resolution not accepted by target, value will not be written",
				zap.String("conflict_id", c.ID),
				zap.Error(err))
			continue
		}

		resolved = append(resolved, c)
		e.monitor.LogConflictResolved(c.ID, strategy)
	}
	return resolved
}

// foldResolutions folds accepted values into a copy of the outgoing record
// set so the write carries the resolutions rather than the raw source view.
// Field-level resolutions overwrite the field on the matching record.
// Whole-record resolutions replace the record when they carry one and drop
// it from the write when the accepted value is nothing at all, as happens
// under target_wins for a record the target never had.
func foldResolutions(records []conflict.Record, resolved []*conflict.Conflict) []conflict.Record {
	if len(resolved) == 0 {
		return records
	}

	byKey := make(map[string]int, len(records))
	for i, record := range records {
		key, err := conflict.RecordKey(record)
		if err != nil {
			continue
		}
		if _, exists := byKey[key]; !exists {
			byKey[key] = i
		}
	}

	out := make([]conflict.Record, len(records))
	copy(out, records)
	drop := make(map[int]struct{})

	for _, c := range resolved {
		if c.Resolution == nil {
			continue
		}
		i, ok := byKey[c.RecordID]
		if !ok {
			continue
		}

		if c.Field == conflict.WholeRecordField {
			switch value := c.Resolution.ResolvedValue.(type) {
			case conflict.Record:
				out[i] = value
				delete(drop, i)
			case map[string]interface{}:
				out[i] = conflict.Record(value)
				delete(drop, i)
			case nil:
				drop[i] = struct{}{}
			}
			continue
		}

		// Copy on write so the reader's slice is never mutated.
		clone := make(conflict.Record, len(out[i])+1)
		for field, value := range out[i] {
			clone[field] = value
		}
		clone[c.Field] = c.Resolution.ResolvedValue
		out[i] = clone
	}

	if len(drop) == 0 {
		return out
	}
	kept := make([]conflict.Record, 0, len(out))
	for i, record := range out {
		if _, dropped := drop[i]; dropped {
			continue
		}
		kept = append(kept, record)
	}
	return kept
}

// writeBatches writes records in fixed-size batches. Each batch is retried
// up to MaxRetries times with 2^attempt backoff before its records count as
// failed; a dead batch never stops the batches after it.
func (e *Engine) writeBatches(ctx context.Context, tgt *source.Endpoint, records []conflict.Record, batchSize int) (succeeded, failed, retries int) {
	writer, ok := e.writers[tgt.Type]
	if !ok {
		if len(records) > 0 {
			e.logger.Warn("No writer registered for target type, all records count as failed",
				zap.String("type", tgt.Type))
		}
		return 0, len(records), 0
	}

	maxRetries := e.config.MaxRetries
	if tgt.Config.MaxRetries > 0 {
		maxRetries = tgt.Config.MaxRetries
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		written, batchRetries := e.writeBatch(ctx, writer, tgt, batch, maxRetries)
		retries += batchRetries
		if written {
			succeeded += len(batch)
		} else {
			failed += len(batch)
		}
	}

	return succeeded, failed, retries
}

// writeBatch retries the current batch up to maxRetries times before giving
// up. Retries are counted per batch; the iteration cursor never rewinds.
func (e *Engine) writeBatch(ctx context.Context, writer source.Writer, tgt *source.Endpoint, batch []conflict.Record, maxRetries int) (bool, int) {
	retries := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			retries++
			e.collector.BatchRetries.Inc()
			backoff := e.config.BackoffBase * time.Duration(1<<uint(attempt))
			e.logger.Warn("Retrying batch write",
				zap.String("target_id", tgt.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return false, retries
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		err := writer.Write(callCtx, tgt, batch)
		cancel()
		if err == nil {
			return true, retries
		}

		e.logger.Error("Batch write failed",
			zap.String("target_id", tgt.ID),
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
	return false, retries
}

// finalizeFailure records a job-level failure and returns the error to the
// caller. The engine never swallows whole-job failures.
func (e *Engine) finalizeFailure(ctx context.Context, result *SyncResult, err error) (*SyncResult, error) {
	result.Success = false
	result.Error = err.Error()
	result.EndTime = time.Now()
	result.DurationMs = result.EndTime.Sub(result.StartTime).Milliseconds()

	e.recordResult(ctx, result)
	e.monitor.LogSyncError(syncEvent(result))

	return result, err
}

// recordResult caches the result, appends it to bounded history, folds its
// throughput into the rolling stats and persists it when a repository is
// configured.
func (e *Engine) recordResult(ctx context.Context, result *SyncResult) {
	cacheKey := "sync:" + result.ID
	if err := e.cache.Set(ctx, cacheKey, result, e.config.ResultCacheTTL); err != nil {
		e.logger.Warn("Failed to cache sync result",
			zap.String("job_id", result.ID),
			zap.Error(err))
	}

	e.mu.Lock()
	e.history = append(e.history, result)
	if len(e.history) > e.config.MaxHistory {
		e.history = e.history[len(e.history)-e.config.MaxHistory:]
	}
	if seconds := float64(result.DurationMs) / 1000; seconds > 0 {
		e.avgThroughput = metrics.RollingAverage(e.avgThroughput, float64(result.RecordsProcessed)/seconds)
	}
	e.mu.Unlock()

	if e.repo != nil {
		if err := e.repo.SaveResult(ctx, result); err != nil {
			e.logger.Warn("Failed to persist sync result",
				zap.String("job_id", result.ID),
				zap.Error(err))
		} else if err := e.repo.SaveConflicts(ctx, result.ID, result.Conflicts); err != nil {
			e.logger.Warn("Failed to persist conflicts",
				zap.String("job_id", result.ID),
				zap.Error(err))
		}
	}
}

// GetResult returns a sync result by job id, preferring the cache.
func (e *Engine) GetResult(ctx context.Context, jobID string) (*SyncResult, bool) {
	value, hit, err := e.cache.Get(ctx, "sync:"+jobID)
	if err != nil {
		e.logger.Warn("Cache read failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if hit {
		e.collector.CacheHits.Inc()
		if result, ok := value.(*SyncResult); ok {
			return result, true
		}
	} else {
		e.collector.CacheMisses.Inc()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == jobID {
			return e.history[i], true
		}
	}
	return nil, false
}

// History returns a copy of the bounded result history, newest last.
func (e *Engine) History() []*SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := make([]*SyncResult, len(e.history))
	copy(history, e.history)
	return history
}

// Throughput returns the rolling records/sec approximation.
func (e *Engine) Throughput() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.avgThroughput
}

func (e *Engine) strategyFor(tgt *source.Endpoint) conflict.Strategy {
	if tgt.Config.ConflictResolution != "" {
		return conflict.Strategy(tgt.Config.ConflictResolution)
	}
	if e.config.DefaultStrategy != "" {
		return e.config.DefaultStrategy
	}
	return conflict.StrategySourceWins
}

func (e *Engine) batchSizeFor(tgt *source.Endpoint) int {
	if tgt.Config.BatchSize > 0 {
		return tgt.Config.BatchSize
	}
	if e.config.BatchSize > 0 {
		return e.config.BatchSize
	}
	return 100
}

func syncEvent(result *SyncResult) *monitor.SyncEvent {
	return &monitor.SyncEvent{
		JobID:            result.ID,
		SourceID:         result.SourceID,
		TargetID:         result.TargetID,
		Success:          result.Success,
		RecordsProcessed: result.RecordsProcessed,
		RecordsFailed:    result.RecordsFailed,
		ConflictCount:    len(result.Conflicts),
		Duration:         result.EndTime.Sub(result.StartTime),
		Error:            result.Error,
		Timestamp:        result.EndTime,
	}
}
