package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func filterConflicts(conflicts []*Conflict, conflictType Type) []*Conflict {
	var out []*Conflict
	for _, c := range conflicts {
		if c.Type == conflictType {
			out = append(out, c)
		}
	}
	return out
}

func TestDetectFieldMismatch(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{{"id": "1", "status": "open", "notes": "a"}}
	target := []Record{{"id": "1", "status": "closed", "notes": "a"}}

	conflicts, err := detector.Detect(source, target)
	require.NoError(t, err)

	mismatches := filterConflicts(conflicts, TypeDataMismatch)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "1", mismatches[0].RecordID)
	assert.Equal(t, "status", mismatches[0].Field)
	assert.Equal(t, "open", mismatches[0].SourceValue)
	assert.Equal(t, "closed", mismatches[0].TargetValue)
	assert.Equal(t, SeverityHigh, mismatches[0].Severity)
}

func TestDetectReportsEveryMismatch(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{{"id": "1", "status": "open", "amount": 100, "notes": "x"}}
	target := []Record{{"id": "1", "status": "closed", "amount": 200, "notes": "y"}}

	conflicts, err := detector.Detect(source, target)
	require.NoError(t, err)

	// Detection is exhaustive: all three differing fields are reported, not
	// just the first.
	mismatches := filterConflicts(conflicts, TypeDataMismatch)
	assert.Len(t, mismatches, 3)
}

func TestDetectMissingRecords(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{{"id": "1"}, {"id": "2"}}
	target := []Record{{"id": "2"}, {"id": "3"}}

	conflicts, err := detector.Detect(source, target)
	require.NoError(t, err)

	missing := filterConflicts(conflicts, TypeMissingRecord)
	require.Len(t, missing, 2)

	bySeverity := make(map[Severity]*Conflict)
	for _, c := range missing {
		bySeverity[c.Severity] = c
	}

	// Source records absent from the target are medium; target-only records
	// are low.
	require.Contains(t, bySeverity, SeverityMedium)
	assert.Equal(t, "1", bySeverity[SeverityMedium].RecordID)
	require.Contains(t, bySeverity, SeverityLow)
	assert.Equal(t, "3", bySeverity[SeverityLow].RecordID)
}

func TestDetectConstraintViolations(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{
		{"id": "1", "email": "not-an-email", "phone": "555"},
		{"id": "2", "parent_id": "missing"},
	}

	conflicts, err := detector.Detect(source, nil)
	require.NoError(t, err)

	violations := filterConflicts(conflicts, TypeConstraintViolation)
	byField := make(map[string]*Conflict)
	for _, c := range violations {
		byField[c.Field] = c
	}

	require.Contains(t, byField, "email")
	assert.Equal(t, SeverityMedium, byField["email"].Severity)
	require.Contains(t, byField, "phone")
	assert.Equal(t, SeverityMedium, byField["phone"].Severity)
	require.Contains(t, byField, "parent_id")
	assert.Equal(t, SeverityHigh, byField["parent_id"].Severity)
}

func TestDetectValidContactFields(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{{"id": "1", "email": "alice@example.com", "phone": "+1 (555) 010-0123"}}

	conflicts, err := detector.Detect(source, nil)
	require.NoError(t, err)
	assert.Empty(t, filterConflicts(conflicts, TypeConstraintViolation))
}

func TestDetectDuplicates(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	// The same key appearing twice in the source yields two duplicate
	// conflicts: the pairwise comparison and the later occurrence checked
	// against the first-seen record.
	source := []Record{
		{"id": "1", "name": "first"},
		{"id": "1", "name": "second"},
	}

	conflicts, err := detector.Detect(source, nil)
	require.NoError(t, err)

	duplicates := filterConflicts(conflicts, TypeDuplicateRecord)
	require.Len(t, duplicates, 2)
	for _, dup := range duplicates {
		assert.Equal(t, "1", dup.RecordID)
		assert.Equal(t, WholeRecordField, dup.Field)
		assert.Equal(t, SeverityMedium, dup.Severity)
	}

	// The repeated key is also a uniqueness violation within the collection.
	violations := filterConflicts(conflicts, TypeConstraintViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, "1", violations[0].RecordID)
	assert.Equal(t, SeverityHigh, violations[0].Severity)
}

func TestDetectIdenticalCollectionsProduceNoConflicts(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	records := []Record{
		{"id": "1", "status": "open", "email": "alice@example.com"},
		{"id": "2", "status": "closed", "parent_id": "1"},
	}
	mirror := []Record{
		{"id": "1", "status": "open", "email": "alice@example.com"},
		{"id": "2", "status": "closed", "parent_id": "1"},
	}

	// A record matched identically on both sides is the synchronized state,
	// not a duplicate and not a uniqueness violation. Running detection over
	// an already-synchronized pair must come back clean.
	conflicts, err := detector.Detect(records, mirror)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectMatchedKeylessPairNotDuplicate(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	source := []Record{{"name": "Acme", "city": "Springfield"}}
	target := []Record{{"name": "Acme", "city": "Springfield"}}

	conflicts, err := detector.Detect(source, target)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectSynthesizedKeyUniqueness(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	// Records without an explicit id still collide on their synthesized key
	// when repeated within one collection.
	source := []Record{
		{"name": "Acme", "city": "Springfield"},
		{"name": "Acme", "city": "Springfield"},
	}

	conflicts, err := detector.Detect(source, nil)
	require.NoError(t, err)

	violations := filterConflicts(conflicts, TypeConstraintViolation)
	require.Len(t, violations, 1)
	duplicates := filterConflicts(conflicts, TypeDuplicateRecord)
	assert.Len(t, duplicates, 2)
}

func TestDetectEmptyCollections(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	conflicts, err := detector.Detect(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectUnkeyableRecordFails(t *testing.T) {
	detector := NewDetector(zap.NewNop())

	// A record without an id and with a non-serializable field cannot be
	// keyed; detection fails closed instead of mis-keying it.
	source := []Record{{"callback": make(chan int)}}

	_, err := detector.Detect(source, nil)
	require.Error(t, err)
}

func TestRecordKey(t *testing.T) {
	key, err := RecordKey(Record{"id": 42, "name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "42", key)

	// Without an id the key is synthesized from sorted fields; field order
	// in the map does not matter.
	a, err := RecordKey(Record{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := RecordKey(Record{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "a=1|b=2", a)
}

func TestSeverityForField(t *testing.T) {
	assert.Equal(t, SeverityCritical, severityForField("client_id"))
	assert.Equal(t, SeverityCritical, severityForField("Email"))
	assert.Equal(t, SeverityHigh, severityForField("total_amount"))
	assert.Equal(t, SeverityHigh, severityForField("due_date"))
	assert.Equal(t, SeverityMedium, severityForField("description"))
	assert.Equal(t, SeverityLow, severityForField("color"))
}
