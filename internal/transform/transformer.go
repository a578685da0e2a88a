// Package transform applies ordered transformation rules to record streams
// before they are compared or written.
package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
)

// RuleType classifies a transformation rule.
type RuleType string

const (
	RuleTypeMap       RuleType = "map"
	RuleTypeTransform RuleType = "transform"
	RuleTypeCalculate RuleType = "calculate"
	RuleTypeValidate  RuleType = "validate"
	RuleTypeFormat    RuleType = "format"
)

// CheckType names one of the closed set of validation predicates. Validation
// conditions are always selected by tag, never evaluated from expression
// strings.
type CheckType string

const (
	CheckRequired CheckType = "required"
	CheckDataType CheckType = "data_type"
	CheckLength   CheckType = "length"
	CheckPattern  CheckType = "pattern"
	CheckRange    CheckType = "range"
)

// Rule is one step in a transformer. Rules apply in ascending Order; each
// rule's output feeds the next rule.
type Rule struct {
	Name    string            `json:"name"`
	Type    RuleType          `json:"type"`
	Order   int               `json:"order"`
	Mapping map[string]string `json:"mapping,omitempty"`
	Checks  []Check           `json:"checks,omitempty"`
}

// Check is a single validation predicate over one field.
type Check struct {
	Field     string    `json:"field"`
	Type      CheckType `json:"type"`
	DataType  string    `json:"data_type,omitempty"`
	MinLength int       `json:"min_length,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	MinValue  float64   `json:"min_value,omitempty"`
	MaxValue  float64   `json:"max_value,omitempty"`
}

// Transformer owns an ordered list of rules.
type Transformer struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`

	logger *zap.Logger
}

// New creates a transformer over the given rules.
func New(name string, rules []Rule, logger *zap.Logger) *Transformer {
	return &Transformer{Name: name, Rules: rules, logger: logger}
}

// Apply runs every rule in order over a record collection. Validate rules
// filter out failing records; map rules rename fields; transform, calculate
// and format are identity placeholders reserved for custom hooks.
func (t *Transformer) Apply(records []conflict.Record) ([]conflict.Record, error) {
	rules := make([]Rule, len(t.Rules))
	copy(rules, t.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })

	current := records
	for _, rule := range rules {
		var err error
		switch rule.Type {
		case RuleTypeMap:
			current = applyMapping(current, rule.Mapping)
		case RuleTypeValidate:
			current, err = t.applyValidation(current, rule)
		case RuleTypeTransform, RuleTypeCalculate, RuleTypeFormat:
			// Identity placeholders for custom hooks.
		default:
			return nil, fmt.Errorf("unknown rule type: %s", rule.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("rule %q failed: %w", rule.Name, err)
		}
	}
	return current, nil
}

// ApplyRecord transforms a single record by treating it as a one-element
// collection. A record filtered out by validation returns nil.
func (t *Transformer) ApplyRecord(record conflict.Record) (conflict.Record, error) {
	out, err := t.Apply([]conflict.Record{record})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func applyMapping(records []conflict.Record, mapping map[string]string) []conflict.Record {
	if len(mapping) == 0 {
		return records
	}

	out := make([]conflict.Record, 0, len(records))
	for _, record := range records {
		mapped := make(conflict.Record, len(record))
		for field, value := range record {
			if renamed, ok := mapping[field]; ok {
				mapped[renamed] = value
			} else {
				mapped[field] = value
			}
		}
		out = append(out, mapped)
	}
	return out
}

func (t *Transformer) applyValidation(records []conflict.Record, rule Rule) ([]conflict.Record, error) {
	out := make([]conflict.Record, 0, len(records))

	for _, record := range records {
		valid := true
		for _, check := range rule.Checks {
			ok, err := evaluateCheck(record, check)
			if err != nil {
				return nil, err
			}
			if !ok {
				valid = false
				break
			}
		}
		if valid {
			out = append(out, record)
		}
	}

	if dropped := len(records) - len(out); dropped > 0 {
		t.logger.Debug("Validation rule dropped records",
			zap.String("rule", rule.Name),
			zap.Int("dropped", dropped))
	}
	return out, nil
}

func evaluateCheck(record conflict.Record, check Check) (bool, error) {
	value, exists := record[check.Field]

	switch check.Type {
	case CheckRequired:
		return exists && value != nil, nil

	case CheckDataType:
		if !exists || value == nil {
			return true, nil
		}
		return matchesType(value, check.DataType), nil

	case CheckLength:
		if !exists || value == nil {
			return true, nil
		}
		str := fmt.Sprintf("%v", value)
		if check.MinLength > 0 && len(str) < check.MinLength {
			return false, nil
		}
		if check.MaxLength > 0 && len(str) > check.MaxLength {
			return false, nil
		}
		return true, nil

	case CheckPattern:
		if !exists || value == nil {
			return true, nil
		}
		pattern, err := regexp.Compile(check.Pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern for field %q: %w", check.Field, err)
		}
		return pattern.MatchString(fmt.Sprintf("%v", value)), nil

	case CheckRange:
		if !exists || value == nil {
			return true, nil
		}
		num, ok := asFloat(value)
		if !ok {
			return false, nil
		}
		// A zero bound is open-ended, as with the length checks.
		if check.MinValue != 0 && num < check.MinValue {
			return false, nil
		}
		if check.MaxValue != 0 && num > check.MaxValue {
			return false, nil
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown check type: %s", check.Type)
	}
}

func matchesType(value interface{}, expected string) bool {
	switch strings.ToLower(expected) {
	case "string", "text":
		_, ok := value.(string)
		return ok
	case "number", "float", "int", "integer":
		_, ok := asFloat(value)
		return ok
	case "bool", "boolean":
		_, ok := value.(bool)
		return ok
	case "datetime", "timestamp":
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, v)
			return err == nil
		}
		return false
	default:
		return true
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
