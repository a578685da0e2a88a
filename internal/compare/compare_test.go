package compare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	now := time.Now()
	sameInstant := now.In(time.UTC)

	tests := []struct {
		name     string
		a        interface{}
		b        interface{}
		expected bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"value vs nil", "x", nil, false},
		{"equal strings", "hello", "hello", true},
		{"different strings", "hello", "world", false},
		{"equal ints", 42, 42, true},
		{"different ints", 42, 43, false},
		{"equal floats", 3.14, 3.14, true},
		{"equal bools", true, true, true},
		{"same instant different zone", now, sameInstant, true},
		{"time vs non-time", now, "2024-01-01", false},
		{
			"equal maps",
			map[string]interface{}{"a": 1, "b": "x"},
			map[string]interface{}{"a": 1, "b": "x"},
			true,
		},
		{
			"different maps",
			map[string]interface{}{"a": 1},
			map[string]interface{}{"a": 2},
			false,
		},
		{
			"equal slices",
			[]interface{}{1, 2, 3},
			[]interface{}{1, 2, 3},
			true,
		},
		{
			"slices in different order",
			[]interface{}{1, 2, 3},
			[]interface{}{3, 2, 1},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Equal(tt.a, tt.b))
		})
	}
}

func TestEqualNonSerializable(t *testing.T) {
	// Values that cannot be serialized are never equal, not even to
	// themselves.
	ch := make(chan int)
	assert.False(t, Equal(ch, ch))
}

func TestCanonical(t *testing.T) {
	s, err := Canonical(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, s)

	_, err = Canonical(make(chan int))
	require.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []string
		b        []string
		expected float64
	}{
		{"both empty", nil, nil, 1.0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1.0},
		{"disjoint", []string{"a"}, []string{"b"}, 0.0},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"one empty", []string{"a"}, nil, 0.0},
		{"duplicates collapse", []string{"a", "a", "b"}, []string{"a", "b"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMergeMaps(t *testing.T) {
	source := map[string]interface{}{
		"name":  "Alice",
		"phone": "555-0100",
		"address": map[string]interface{}{
			"street": "1 Main St",
			"city":   "Springfield",
		},
	}
	target := map[string]interface{}{
		"name":  "Alice B.",
		"email": "alice@example.com",
		"address": map[string]interface{}{
			"city": "Shelbyville",
		},
	}

	merged, ok := Merge(source, target).(map[string]interface{})
	require.True(t, ok)

	// Target wins on leaf conflicts; source fills gaps.
	assert.Equal(t, "Alice B.", merged["name"])
	assert.Equal(t, "alice@example.com", merged["email"])
	assert.Equal(t, "555-0100", merged["phone"])

	address, ok := merged["address"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Shelbyville", address["city"])
	assert.Equal(t, "1 Main St", address["street"])
}

func TestMergeLists(t *testing.T) {
	source := []interface{}{"a", "b", "c"}
	target := []interface{}{"b", "d"}

	merged, ok := Merge(source, target).([]interface{})
	require.True(t, ok)

	// Target items first, then source items not already present.
	assert.Equal(t, []interface{}{"b", "d", "a", "c"}, merged)
}

func TestMergeScalars(t *testing.T) {
	assert.Equal(t, "target", Merge("source", "target"))
	assert.Equal(t, "source", Merge("source", nil))
}
