// Package compare provides deep equality, similarity and merge utilities
// over dynamically shaped record values.
package compare

import (
	"encoding/json"
	"fmt"
	"time"
)

// Equal reports whether two values are considered equal for conflict
// detection purposes. Both nil, identical primitives, time instants at the
// same moment, and structured values whose canonical JSON forms match are
// all equal. Values that cannot be serialized are never equal.
func Equal(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
		return false
	}

	switch a.(type) {
	case string, bool, int, int8, int16, int32, int64, float32, float64:
		return a == b
	}

	ca, err := canonical(a)
	if err != nil {
		return false
	}
	cb, err := canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// Canonical returns the canonical JSON serialization of a value, used both
// for equality checks and for synthesized record keys. Non-serializable
// values (functions, channels, cycles) fail closed with an error so that
// callers never mis-key a record.
func Canonical(v interface{}) (string, error) {
	return canonical(v)
}

func canonical(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("value is not comparable: %w", err)
	}
	return string(data), nil
}

// Similarity computes the Jaccard index of two item collections:
// |intersection| / |union|, in [0, 1]. Two empty collections are fully
// similar.
func Similarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, item := range a {
		setA[item] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, item := range b {
		setB[item] = struct{}{}
	}

	intersection := 0
	for item := range setA {
		if _, ok := setB[item]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}

	return float64(intersection) / float64(union)
}

// Merge combines two values recursively. Object fields merge key-by-key
// with the target (second argument) winning on leaf conflicts unless the
// key is absent from the target; arrays merge as a deduplicated union.
// Anything else resolves to the target when present, otherwise the source.
func Merge(source, target interface{}) interface{} {
	srcMap, srcIsMap := asMap(source)
	tgtMap, tgtIsMap := asMap(target)
	if srcIsMap && tgtIsMap {
		merged := make(map[string]interface{}, len(tgtMap))
		for k, v := range tgtMap {
			merged[k] = v
		}
		for k, sv := range srcMap {
			if tv, exists := merged[k]; exists {
				merged[k] = Merge(sv, tv)
			} else {
				merged[k] = sv
			}
		}
		return merged
	}

	srcList, srcIsList := asList(source)
	tgtList, tgtIsList := asList(target)
	if srcIsList && tgtIsList {
		return mergeLists(srcList, tgtList)
	}

	if target != nil {
		return target
	}
	return source
}

func mergeLists(source, target []interface{}) []interface{} {
	merged := make([]interface{}, 0, len(source)+len(target))
	seen := make(map[string]struct{})

	appendUnique := func(v interface{}) {
		key, err := canonical(v)
		if err != nil {
			// Non-serializable items are kept as-is; they cannot be
			// deduplicated safely.
			merged = append(merged, v)
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, v)
	}

	for _, v := range target {
		appendUnique(v)
	}
	for _, v := range source {
		appendUnique(v)
	}
	return merged
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}
