// Package conflict implements conflict detection and resolution between a
// source and target view of the same logical dataset.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matterhub/sync-engine/internal/compare"
)

// Record is a dynamically shaped data record keyed by field name. Records
// carry an optional "id" field; records without one are keyed by their
// serialized field set.
type Record map[string]interface{}

// Type classifies a detected conflict.
type Type string

const (
	TypeDataMismatch        Type = "data_mismatch"
	TypeMissingRecord       Type = "missing_record"
	TypeDuplicateRecord     Type = "duplicate_record"
	TypeConstraintViolation Type = "constraint_violation"
)

// Severity ranks how urgently a conflict needs attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Strategy names a policy for collapsing a conflict into one accepted value.
type Strategy string

const (
	StrategySourceWins Strategy = "source_wins"
	StrategyTargetWins Strategy = "target_wins"
	StrategyNewestWins Strategy = "newest_wins"
	StrategyOldestWins Strategy = "oldest_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
	StrategyCustom     Strategy = "custom"
)

// WholeRecordField is the sentinel field name used for conflicts that apply
// to an entire record rather than a single field.
const WholeRecordField = "record"

// Conflict identifies one disagreement between the source and target view
// of a record.
type Conflict struct {
	ID          string      `json:"id"`
	RecordID    string      `json:"record_id"`
	Field       string      `json:"field"`
	SourceValue interface{} `json:"source_value,omitempty"`
	TargetValue interface{} `json:"target_value,omitempty"`
	Type        Type        `json:"type"`
	Severity    Severity    `json:"severity"`
	DetectedAt  time.Time   `json:"detected_at"`
	Resolution  *Resolution `json:"resolution,omitempty"`
}

// Resolution records how a conflict was collapsed into one accepted value.
type Resolution struct {
	Strategy      Strategy    `json:"strategy"`
	ResolvedValue interface{} `json:"resolved_value"`
	ResolvedAt    time.Time   `json:"resolved_at"`
	ResolvedBy    string      `json:"resolved_by"`
	Notes         string      `json:"notes,omitempty"`
}

// severityForField derives conflict severity from the field name. Identifier
// and contact fields are critical because they key records downstream;
// business-facing fields are high; descriptive fields are medium.
func severityForField(field string) Severity {
	name := strings.ToLower(field)

	critical := []string{"id", "uuid", "key", "email", "phone"}
	for _, marker := range critical {
		if strings.Contains(name, marker) {
			return SeverityCritical
		}
	}

	high := []string{"name", "amount", "total", "status", "date"}
	for _, marker := range high {
		if strings.Contains(name, marker) {
			return SeverityHigh
		}
	}

	medium := []string{"description", "notes", "comment", "metadata", "tags"}
	for _, marker := range medium {
		if strings.Contains(name, marker) {
			return SeverityMedium
		}
	}

	return SeverityLow
}

// RecordKey returns the identifying key for a record: its "id" field when
// present, otherwise a key synthesized from the sorted field names and their
// canonical values. Records holding non-serializable values fail closed so
// that two distinct records are never silently keyed identically.
func RecordKey(r Record) (string, error) {
	if id, ok := r["id"]; ok && id != nil {
		return fmt.Sprintf("%v", id), nil
	}

	fields := make([]string, 0, len(r))
	for field := range r {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		value, err := compare.Canonical(r[field])
		if err != nil {
			return "", fmt.Errorf("record field %q: %w", field, err)
		}
		parts = append(parts, field+"="+value)
	}
	return strings.Join(parts, "|"), nil
}
