// Package database persists finalized sync results and their conflicts so
// operators can audit sync runs beyond the in-memory history window.
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
	"github.com/matterhub/sync-engine/internal/engine"
)

// SyncLogRow is the persisted form of one sync attempt.
type SyncLogRow struct {
	ID               string    `db:"id"`
	SourceID         string    `db:"source_id"`
	TargetID         string    `db:"target_id"`
	Success          bool      `db:"success"`
	RecordsProcessed int       `db:"records_processed"`
	RecordsSucceeded int       `db:"records_succeeded"`
	RecordsFailed    int       `db:"records_failed"`
	ConflictCount    int       `db:"conflict_count"`
	Error            string    `db:"error"`
	Metadata         []byte    `db:"metadata"`
	StartedAt        time.Time `db:"started_at"`
	FinishedAt       time.Time `db:"finished_at"`
	DurationMs       int64     `db:"duration_ms"`
}

// ConflictRow is the persisted form of one detected conflict.
type ConflictRow struct {
	ID            string    `db:"id"`
	JobID         string    `db:"job_id"`
	RecordID      string    `db:"record_id"`
	Field         string    `db:"field"`
	Type          string    `db:"type"`
	Severity      string    `db:"severity"`
	SourceValue   []byte    `db:"source_value"`
	TargetValue   []byte    `db:"target_value"`
	Strategy      string    `db:"strategy"`
	ResolvedValue []byte    `db:"resolved_value"`
	ResolvedBy    string    `db:"resolved_by"`
	Notes         string    `db:"notes"`
	DetectedAt    time.Time `db:"detected_at"`
}

// Repository is the sqlx-backed sync log store. It satisfies
// engine.ResultRepository.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository creates a repository over an open database connection.
func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Migrate applies the sync-log schema migrations from the given directory.
func Migrate(databaseURL, migrationsPath string, logger *zap.Logger) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return errors.Wrap(err, "failed to initialize migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "failed to apply migrations")
	}

	logger.Info("Database migrations applied", zap.String("path", migrationsPath))
	return nil
}

// SaveResult inserts one finalized sync result.
func (r *Repository) SaveResult(ctx context.Context, result *engine.SyncResult) error {
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal result metadata")
	}

	row := &SyncLogRow{
		ID:               result.ID,
		SourceID:         result.SourceID,
		TargetID:         result.TargetID,
		Success:          result.Success,
		RecordsProcessed: result.RecordsProcessed,
		RecordsSucceeded: result.RecordsSucceeded,
		RecordsFailed:    result.RecordsFailed,
		ConflictCount:    len(result.Conflicts),
		Error:            result.Error,
		Metadata:         metadata,
		StartedAt:        result.StartTime,
		FinishedAt:       result.EndTime,
		DurationMs:       result.DurationMs,
	}

	query := `
		INSERT INTO sync_logs (
			id, source_id, target_id, success, records_processed,
			records_succeeded, records_failed, conflict_count, error,
			metadata, started_at, finished_at, duration_ms
		) VALUES (
			:id, :source_id, :target_id, :success, :records_processed,
			:records_succeeded, :records_failed, :conflict_count, :error,
			:metadata, :started_at, :finished_at, :duration_ms
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrapf(err, "failed to insert sync log %s", result.ID)
	}

	r.logger.Debug("Sync result persisted", zap.String("job_id", result.ID))
	return nil
}

// SaveConflicts inserts the conflicts detected by one job.
func (r *Repository) SaveConflicts(ctx context.Context, jobID string, conflicts []*conflict.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_conflicts (
			id, job_id, record_id, field, type, severity, source_value,
			target_value, strategy, resolved_value, resolved_by, notes,
			detected_at
		) VALUES (
			:id, :job_id, :record_id, :field, :type, :severity, :source_value,
			:target_value, :strategy, :resolved_value, :resolved_by, :notes,
			:detected_at
		)`

	for _, c := range conflicts {
		row, err := conflictRow(jobID, c)
		if err != nil {
			r.logger.Warn("Skipping non-serializable conflict",
				zap.String("conflict_id", c.ID),
				zap.Error(err))
			continue
		}
		if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
			return errors.Wrapf(err, "failed to insert conflict %s", c.ID)
		}
	}

	return nil
}

// ListResults returns the most recent sync logs, newest first.
func (r *Repository) ListResults(ctx context.Context, limit int) ([]*SyncLogRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT * FROM sync_logs
		ORDER BY started_at DESC
		LIMIT $1`

	var rows []*SyncLogRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list sync logs")
	}
	return rows, nil
}

// ListConflicts returns the persisted conflicts for one job.
func (r *Repository) ListConflicts(ctx context.Context, jobID string) ([]*ConflictRow, error) {
	query := `
		SELECT * FROM sync_conflicts
		WHERE job_id = $1
		ORDER BY detected_at`

	var rows []*ConflictRow
	if err := r.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, errors.Wrapf(err, "failed to list conflicts for job %s", jobID)
	}
	return rows, nil
}

func conflictRow(jobID string, c *conflict.Conflict) (*ConflictRow, error) {
	sourceValue, err := json.Marshal(c.SourceValue)
	if err != nil {
		return nil, err
	}
	targetValue, err := json.Marshal(c.TargetValue)
	if err != nil {
		return nil, err
	}

	row := &ConflictRow{
		ID:          c.ID,
		JobID:       jobID,
		RecordID:    c.RecordID,
		Field:       c.Field,
		Type:        string(c.Type),
		Severity:    string(c.Severity),
		SourceValue: sourceValue,
		TargetValue: targetValue,
		DetectedAt:  c.DetectedAt,
	}

	if c.Resolution != nil {
		resolvedValue, err := json.Marshal(c.Resolution.ResolvedValue)
		if err != nil {
			return nil, err
		}
		row.Strategy = string(c.Resolution.Strategy)
		row.ResolvedValue = resolvedValue
		row.ResolvedBy = c.Resolution.ResolvedBy
		row.Notes = c.Resolution.Notes
	}

	return row, nil
}
