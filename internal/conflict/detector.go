package conflict

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/compare"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// Detector compares a source and target record collection and produces the
// full list of conflicts between them. Detection is exhaustive: every
// disagreement is reported, never just the first one per record.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a new conflict detector.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect runs all detection passes in order: field-level mismatches,
// missing records on either side, constraint checks, and per-collection
// duplicate detection. Two identical collections produce no conflicts. A
// record that cannot be keyed aborts detection, which callers must treat
// as the whole sync attempt failing.
func (d *Detector) Detect(source, target []Record) ([]*Conflict, error) {
	startTime := time.Now()

	sourceIndex, err := indexRecords(source)
	if err != nil {
		return nil, fmt.Errorf("failed to index source records: %w", err)
	}
	targetIndex, err := indexRecords(target)
	if err != nil {
		return nil, fmt.Errorf("failed to index target records: %w", err)
	}

	var conflicts []*Conflict

	// Pass 1: field-by-field diff for records present on both sides, and
	// missing_record for source records absent from the target.
	for _, key := range sourceIndex.keys {
		srcRecord := sourceIndex.records[key]
		tgtRecord, exists := targetIndex.records[key]
		if !exists {
			conflicts = append(conflicts, newConflict(key, WholeRecordField, srcRecord, nil, TypeMissingRecord, SeverityMedium))
			continue
		}
		conflicts = append(conflicts, diffRecords(key, srcRecord, tgtRecord)...)
	}

	// Pass 2: records present only in the target.
	for _, key := range targetIndex.keys {
		if _, exists := sourceIndex.records[key]; !exists {
			conflicts = append(conflicts, newConflict(key, WholeRecordField, nil, targetIndex.records[key], TypeMissingRecord, SeverityLow))
		}
	}

	// Pass 3: constraint checks. Key uniqueness is scoped to each
	// collection so a record matched on both sides never counts as its own
	// violation; two identical collections must detect clean.
	constraintConflicts, err := d.checkConstraints(source, target)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, constraintConflicts...)

	// Pass 4: duplicate detection within each collection.
	for _, records := range [][]Record{source, target} {
		duplicateConflicts, err := d.detectDuplicates(records)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, duplicateConflicts...)
	}

	d.logger.Info("Conflict detection completed",
		zap.Int("source_records", len(source)),
		zap.Int("target_records", len(target)),
		zap.Int("conflicts", len(conflicts)),
		zap.Duration("duration", time.Since(startTime)))

	return conflicts, nil
}

// diffRecords compares every field present on either side of a record pair.
func diffRecords(key string, src, tgt Record) []*Conflict {
	fields := make(map[string]struct{}, len(src)+len(tgt))
	for field := range src {
		fields[field] = struct{}{}
	}
	for field := range tgt {
		fields[field] = struct{}{}
	}

	var conflicts []*Conflict
	for field := range fields {
		srcValue := src[field]
		tgtValue := tgt[field]
		if !compare.Equal(srcValue, tgtValue) {
			conflicts = append(conflicts, newConflict(key, field, srcValue, tgtValue, TypeDataMismatch, severityForField(field)))
		}
	}
	return conflicts
}

// checkConstraints validates uniqueness, referential integrity and basic
// field formats. Uniqueness covers explicit ids and synthesized keys alike,
// within one collection at a time; format and referential checks run once
// per distinct record key.
func (d *Detector) checkConstraints(source, target []Record) ([]*Conflict, error) {
	var conflicts []*Conflict

	for _, records := range [][]Record{source, target} {
		seen := make(map[string]Record)
		for _, record := range records {
			key, err := RecordKey(record)
			if err != nil {
				return nil, err
			}
			if first, dup := seen[key]; dup {
				conflicts = append(conflicts, newConflict(key, "id", record["id"], first["id"], TypeConstraintViolation, SeverityHigh))
			} else {
				seen[key] = record
			}
		}
	}

	distinct, err := dedupeByKey(append(append([]Record{}, source...), target...))
	if err != nil {
		return nil, err
	}

	knownIDs := make(map[string]struct{})
	for _, record := range distinct {
		if id, ok := record["id"]; ok && id != nil {
			knownIDs[fmt.Sprintf("%v", id)] = struct{}{}
		}
	}

	for _, record := range distinct {
		key, err := RecordKey(record)
		if err != nil {
			return nil, err
		}

		// Referential integrity: parent_id must point at a known record.
		if parentID, ok := record["parent_id"]; ok && parentID != nil {
			parentKey := fmt.Sprintf("%v", parentID)
			if _, known := knownIDs[parentKey]; !known {
				conflicts = append(conflicts, newConflict(key, "parent_id", parentID, nil, TypeConstraintViolation, SeverityHigh))
			}
		}

		// Format checks on contact fields.
		for field, value := range record {
			str, isString := value.(string)
			if !isString {
				continue
			}
			name := strings.ToLower(field)
			if strings.Contains(name, "email") && !emailPattern.MatchString(str) {
				conflicts = append(conflicts, newConflict(key, field, value, nil, TypeConstraintViolation, SeverityMedium))
			}
			if strings.Contains(name, "phone") && len(nonDigits.ReplaceAllString(str, "")) < 10 {
				conflicts = append(conflicts, newConflict(key, field, value, nil, TypeConstraintViolation, SeverityMedium))
			}
		}
	}

	return conflicts, nil
}

// detectDuplicates scans one collection for repeated record keys. Every
// repeated key yields two kinds of conflicts: one per pair of colliding
// records, and one per later occurrence checked against the first-seen
// record.
func (d *Detector) detectDuplicates(records []Record) ([]*Conflict, error) {
	keys := make([]string, len(records))
	for i, record := range records {
		key, err := RecordKey(record)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	groups := make(map[string][]int)
	var order []string
	for i, key := range keys {
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var conflicts []*Conflict
	for _, key := range order {
		indexes := groups[key]
		if len(indexes) < 2 {
			continue
		}
		for a := 0; a < len(indexes); a++ {
			for b := a + 1; b < len(indexes); b++ {
				conflicts = append(conflicts, newConflict(key, WholeRecordField, records[indexes[a]], records[indexes[b]], TypeDuplicateRecord, SeverityMedium))
			}
		}
		first := records[indexes[0]]
		for _, i := range indexes[1:] {
			conflicts = append(conflicts, newConflict(key, WholeRecordField, records[i], first, TypeDuplicateRecord, SeverityMedium))
		}
	}

	return conflicts, nil
}

// dedupeByKey keeps the first-seen record per key, preserving order.
func dedupeByKey(records []Record) ([]Record, error) {
	seen := make(map[string]struct{}, len(records))
	distinct := make([]Record, 0, len(records))
	for _, record := range records {
		key, err := RecordKey(record)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, record)
	}
	return distinct, nil
}

type recordIndex struct {
	records map[string]Record
	keys    []string
}

// indexRecords keys a collection preserving first-seen order so detection
// output is deterministic for a given input ordering.
func indexRecords(records []Record) (*recordIndex, error) {
	idx := &recordIndex{records: make(map[string]Record, len(records))}
	for _, record := range records {
		key, err := RecordKey(record)
		if err != nil {
			return nil, err
		}
		if _, exists := idx.records[key]; !exists {
			idx.keys = append(idx.keys, key)
		}
		idx.records[key] = record
	}
	return idx, nil
}

func newConflict(recordID, field string, sourceValue, targetValue interface{}, conflictType Type, severity Severity) *Conflict {
	return &Conflict{
		ID:          uuid.New().String(),
		RecordID:    recordID,
		Field:       field,
		SourceValue: sourceValue,
		TargetValue: targetValue,
		Type:        conflictType,
		Severity:    severity,
		DetectedAt:  time.Now(),
	}
}
