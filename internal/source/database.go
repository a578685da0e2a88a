package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
)

// DatabaseAdapter reads and writes records against a SQL database endpoint.
// Reads run either the endpoint's raw query or a SELECT over its configured
// table; writes upsert by id.
type DatabaseAdapter struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDatabaseAdapter creates a database adapter over an open connection.
func NewDatabaseAdapter(db *sqlx.DB, logger *zap.Logger) *DatabaseAdapter {
	return &DatabaseAdapter{db: db, logger: logger}
}

// Read fetches all records from the endpoint's table or raw query.
func (a *DatabaseAdapter) Read(ctx context.Context, endpoint *Endpoint) ([]conflict.Record, error) {
	query := endpoint.Config.Query
	if query == "" {
		if endpoint.Config.Table == "" {
			return nil, errors.Errorf("database endpoint %s has neither table nor query configured", endpoint.ID)
		}
		query = fmt.Sprintf("SELECT * FROM %s", quoteIdentifier(endpoint.Config.Schema, endpoint.Config.Table))
	}

	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read from database endpoint %s", endpoint.ID)
	}
	defer rows.Close()

	var records []conflict.Record
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		records = append(records, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration failed")
	}

	a.logger.Debug("Database read completed",
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("records", len(records)))

	return records, nil
}

// Write upserts a batch of records by id inside one transaction. The whole
// batch succeeds or fails together so the engine's retry policy stays
// batch-scoped.
func (a *DatabaseAdapter) Write(ctx context.Context, endpoint *Endpoint, records []conflict.Record) error {
	if endpoint.Config.Table == "" {
		return errors.Errorf("database endpoint %s has no table configured for writes", endpoint.ID)
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin write transaction")
	}
	defer tx.Rollback()

	table := quoteIdentifier(endpoint.Config.Schema, endpoint.Config.Table)
	for _, record := range records {
		if err := upsertRecord(ctx, tx, table, record); err != nil {
			return errors.Wrapf(err, "failed to upsert record into %s", table)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit write transaction")
	}

	a.logger.Debug("Database batch written",
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("records", len(records)))
	return nil
}

// Apply prepares a resolved field value for the upsert that carries it to
// the database. Composite values (maps, slices) are serialized to JSON in
// place so they bind as SQL parameters; a value that cannot be serialized
// fails here instead of poisoning the whole batch later. Whole-record
// resolutions pass through untouched, the batch write path owns those.
func (a *DatabaseAdapter) Apply(_ context.Context, c *conflict.Conflict, res *conflict.Resolution) error {
	if c.Field == conflict.WholeRecordField || res.ResolvedValue == nil {
		return nil
	}

	switch res.ResolvedValue.(type) {
	case conflict.Record, map[string]interface{}, []interface{}:
		data, err := json.Marshal(res.ResolvedValue)
		if err != nil {
			return errors.Wrapf(err, "resolved value for %s.%s cannot be bound", c.RecordID, c.Field)
		}
		res.ResolvedValue = string(data)
	}

	a.logger.Debug("Resolution prepared for database target",
		zap.String("record_id", c.RecordID),
		zap.String("field", c.Field))
	return nil
}

func upsertRecord(ctx context.Context, tx *sqlx.Tx, table string, record conflict.Record) error {
	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}

	placeholders := make([]string, 0, len(columns))
	updates := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns))
	for i, column := range columns {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		if column != "id" {
			updates = append(updates, fmt.Sprintf("%q = EXCLUDED.%q", column, column))
		}
		args = append(args, record[column])
	}

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = fmt.Sprintf("%q", column)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		table,
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
	if len(updates) == 0 {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
			table,
			strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "),
		)
	}

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// normalizeRow converts driver byte slices to strings so records compare by
// value rather than by slice identity.
func normalizeRow(row map[string]interface{}) conflict.Record {
	record := make(conflict.Record, len(row))
	for column, value := range row {
		if b, ok := value.([]byte); ok {
			record[column] = string(b)
		} else {
			record[column] = value
		}
	}
	return record
}

func quoteIdentifier(schema, table string) string {
	if schema != "" {
		return fmt.Sprintf("%q.%q", schema, table)
	}
	return fmt.Sprintf("%q", table)
}
