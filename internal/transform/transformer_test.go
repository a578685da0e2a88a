package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
)

func TestApplyMapping(t *testing.T) {
	transformer := New("rename", []Rule{
		{
			Name:    "rename legacy fields",
			Type:    RuleTypeMap,
			Mapping: map[string]string{"client_nm": "client_name", "mtr_no": "matter_number"},
		},
	}, zap.NewNop())

	out, err := transformer.Apply([]conflict.Record{
		{"client_nm": "Acme LLP", "mtr_no": "M-100", "status": "open"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "Acme LLP", out[0]["client_name"])
	assert.Equal(t, "M-100", out[0]["matter_number"])
	assert.Equal(t, "open", out[0]["status"])
	assert.NotContains(t, out[0], "client_nm")
}

func TestApplyRulesInOrder(t *testing.T) {
	// The validate rule carries a lower Order than the map rule, so it must
	// run first and see the pre-rename field.
	transformer := New("ordered", []Rule{
		{
			Name:    "rename",
			Type:    RuleTypeMap,
			Order:   2,
			Mapping: map[string]string{"client_nm": "client_name"},
		},
		{
			Name:   "require legacy name",
			Type:   RuleTypeValidate,
			Order:  1,
			Checks: []Check{{Field: "client_nm", Type: CheckRequired}},
		},
	}, zap.NewNop())

	out, err := transformer.Apply([]conflict.Record{
		{"client_nm": "Acme LLP"},
		{"other": "x"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Acme LLP", out[0]["client_name"])
}

func TestValidationChecks(t *testing.T) {
	tests := []struct {
		name   string
		check  Check
		record conflict.Record
		kept   bool
	}{
		{"required present", Check{Field: "id", Type: CheckRequired}, conflict.Record{"id": "1"}, true},
		{"required missing", Check{Field: "id", Type: CheckRequired}, conflict.Record{"x": 1}, false},
		{"required nil", Check{Field: "id", Type: CheckRequired}, conflict.Record{"id": nil}, false},
		{"data type match", Check{Field: "amount", Type: CheckDataType, DataType: "number"}, conflict.Record{"amount": 12.5}, true},
		{"data type mismatch", Check{Field: "amount", Type: CheckDataType, DataType: "number"}, conflict.Record{"amount": "lots"}, false},
		{"data type absent field passes", Check{Field: "amount", Type: CheckDataType, DataType: "number"}, conflict.Record{}, true},
		{"datetime string", Check{Field: "due", Type: CheckDataType, DataType: "datetime"}, conflict.Record{"due": "2025-01-01T00:00:00Z"}, true},
		{"length within bounds", Check{Field: "code", Type: CheckLength, MinLength: 2, MaxLength: 4}, conflict.Record{"code": "abc"}, true},
		{"length too short", Check{Field: "code", Type: CheckLength, MinLength: 2}, conflict.Record{"code": "a"}, false},
		{"length too long", Check{Field: "code", Type: CheckLength, MaxLength: 2}, conflict.Record{"code": "abc"}, false},
		{"pattern match", Check{Field: "ref", Type: CheckPattern, Pattern: `^M-\d+$`}, conflict.Record{"ref": "M-42"}, true},
		{"pattern mismatch", Check{Field: "ref", Type: CheckPattern, Pattern: `^M-\d+$`}, conflict.Record{"ref": "42"}, false},
		{"range within", Check{Field: "hours", Type: CheckRange, MinValue: 0, MaxValue: 24}, conflict.Record{"hours": 8}, true},
		{"range outside", Check{Field: "hours", Type: CheckRange, MinValue: 0, MaxValue: 24}, conflict.Record{"hours": 30}, false},
		{"range non-numeric", Check{Field: "hours", Type: CheckRange, MinValue: 0, MaxValue: 24}, conflict.Record{"hours": true}, false},
		{"range min only kept", Check{Field: "hours", Type: CheckRange, MinValue: 1}, conflict.Record{"hours": 100}, true},
		{"range min only below", Check{Field: "hours", Type: CheckRange, MinValue: 5}, conflict.Record{"hours": 3}, false},
		{"range max only kept", Check{Field: "hours", Type: CheckRange, MaxValue: 10}, conflict.Record{"hours": 8}, true},
		{"range max only above", Check{Field: "hours", Type: CheckRange, MaxValue: 10}, conflict.Record{"hours": 12}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transformer := New("validate", []Rule{
				{Name: "rule", Type: RuleTypeValidate, Checks: []Check{tt.check}},
			}, zap.NewNop())

			out, err := transformer.Apply([]conflict.Record{tt.record})
			require.NoError(t, err)
			if tt.kept {
				assert.Len(t, out, 1)
			} else {
				assert.Empty(t, out)
			}
		})
	}
}

func TestValidationInvalidPattern(t *testing.T) {
	transformer := New("validate", []Rule{
		{
			Name:   "broken",
			Type:   RuleTypeValidate,
			Checks: []Check{{Field: "ref", Type: CheckPattern, Pattern: `([`}},
		},
	}, zap.NewNop())

	_, err := transformer.Apply([]conflict.Record{{"ref": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestUnknownRuleType(t *testing.T) {
	transformer := New("bad", []Rule{{Name: "eval", Type: RuleType("script")}}, zap.NewNop())

	_, err := transformer.Apply([]conflict.Record{{"id": "1"}})
	require.Error(t, err)
}

func TestIdentityRuleTypes(t *testing.T) {
	transformer := New("identity", []Rule{
		{Name: "t", Type: RuleTypeTransform},
		{Name: "c", Type: RuleTypeCalculate},
		{Name: "f", Type: RuleTypeFormat},
	}, zap.NewNop())

	records := []conflict.Record{{"id": "1", "amount": 10}}
	out, err := transformer.Apply(records)
	require.NoError(t, err)
	assert.Equal(t, records, out)
}

func TestApplyRecord(t *testing.T) {
	transformer := New("single", []Rule{
		{
			Name:   "require id",
			Type:   RuleTypeValidate,
			Checks: []Check{{Field: "id", Type: CheckRequired}},
		},
	}, zap.NewNop())

	record, err := transformer.ApplyRecord(conflict.Record{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, conflict.Record{"id": "1"}, record)

	// A record filtered out by validation returns nil without error.
	record, err = transformer.ApplyRecord(conflict.Record{"x": 1})
	require.NoError(t, err)
	assert.Nil(t, record)
}
