package conflict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/compare"
)

// Applier applies an accepted resolution value to one kind of target
// collaborator (database, api, ...). Implementations live with the target
// adapters; the resolver only dispatches.
type Applier interface {
	Apply(ctx context.Context, c *Conflict, res *Resolution) error
}

// Resolver collapses conflicts into accepted values under a named strategy.
type Resolver struct {
	logger   *zap.Logger
	appliers map[string]Applier
}

// NewResolver creates a new conflict resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		appliers: make(map[string]Applier),
	}
}

// RegisterApplier registers the applier responsible for a target type.
func (r *Resolver) RegisterApplier(targetType string, applier Applier) {
	r.appliers[targetType] = applier
}

// Resolve computes the accepted value for a conflict under the given
// strategy and attaches the resulting Resolution to the conflict.
func (r *Resolver) Resolve(c *Conflict, strategy Strategy) (*Resolution, error) {
	var resolvedValue interface{}
	notes := fmt.Sprintf("resolved using %s strategy", strategy)

	switch strategy {
	case StrategySourceWins:
		resolvedValue = c.SourceValue
	case StrategyTargetWins:
		resolvedValue = c.TargetValue
	case StrategyNewestWins:
		resolvedValue = r.resolveByAge(c, true)
	case StrategyOldestWins:
		resolvedValue = r.resolveByAge(c, false)
	case StrategyMerge:
		resolvedValue = compare.Merge(c.SourceValue, c.TargetValue)
	case StrategyManual:
		resolvedValue = c.SourceValue
		notes = "source value applied provisionally; flagged for manual review"
	case StrategyCustom:
		resolvedValue = r.resolveCustom(c)
	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", strategy)
	}

	resolution := &Resolution{
		Strategy:      strategy,
		ResolvedValue: resolvedValue,
		ResolvedAt:    time.Now(),
		ResolvedBy:    "automatic",
		Notes:         notes,
	}
	c.Resolution = resolution

	r.logger.Debug("Conflict resolved",
		zap.String("conflict_id", c.ID),
		zap.String("record_id", c.RecordID),
		zap.String("field", c.Field),
		zap.String("strategy", string(strategy)))

	return resolution, nil
}

// ApplyResolution applies a resolution through the adapter registered for
// the target type. Unsupported target types fail with an explicit error.
func (r *Resolver) ApplyResolution(ctx context.Context, c *Conflict, targetType string) error {
	if c.Resolution == nil {
		return fmt.Errorf("conflict %s has no resolution to apply", c.ID)
	}

	applier, ok := r.appliers[targetType]
	if !ok {
		return fmt.Errorf("unsupported target type for resolution: %s", targetType)
	}

	if err := applier.Apply(ctx, c, c.Resolution); err != nil {
		return fmt.Errorf("failed to apply resolution for conflict %s: %w", c.ID, err)
	}
	return nil
}

// resolveByAge picks the newer (or older) of the two sides by extracted
// timestamp. When either side's timestamp cannot be extracted the source
// value wins for newest_wins and the target value for oldest_wins.
func (r *Resolver) resolveByAge(c *Conflict, newest bool) interface{} {
	srcTime, srcOK := extractTime(c.SourceValue)
	tgtTime, tgtOK := extractTime(c.TargetValue)

	if !srcOK || !tgtOK {
		if newest {
			return c.SourceValue
		}
		return c.TargetValue
	}

	if newest == srcTime.After(tgtTime) {
		return c.SourceValue
	}
	return c.TargetValue
}

// resolveCustom applies type-aware heuristics per conflict class.
func (r *Resolver) resolveCustom(c *Conflict) interface{} {
	switch c.Type {
	case TypeDataMismatch:
		return r.resolveDataMismatch(c)
	case TypeMissingRecord:
		if c.SourceValue != nil {
			return c.SourceValue
		}
		return c.TargetValue
	case TypeDuplicateRecord:
		return compare.Merge(c.SourceValue, c.TargetValue)
	case TypeConstraintViolation:
		return r.resolveConstraintViolation(c)
	default:
		return c.SourceValue
	}
}

// resolveDataMismatch handles field-aware mismatch heuristics: name fields
// concatenate both sides, address fields keep the longer serialization,
// everything else takes the source.
func (r *Resolver) resolveDataMismatch(c *Conflict) interface{} {
	field := strings.ToLower(c.Field)

	if strings.Contains(field, "name") {
		return fmt.Sprintf("%v (%v)", c.SourceValue, c.TargetValue)
	}

	if strings.Contains(field, "address") {
		src := fmt.Sprintf("%v", c.SourceValue)
		tgt := fmt.Sprintf("%v", c.TargetValue)
		if len(src) >= len(tgt) {
			return c.SourceValue
		}
		return c.TargetValue
	}

	return c.SourceValue
}

// resolveConstraintViolation normalizes the violating value when the field
// is a contact field: emails are lowercased and trimmed, phones stripped to
// digits.
func (r *Resolver) resolveConstraintViolation(c *Conflict) interface{} {
	str, ok := c.SourceValue.(string)
	if !ok {
		return c.SourceValue
	}

	field := strings.ToLower(c.Field)
	if strings.Contains(field, "email") {
		return strings.ToLower(strings.TrimSpace(str))
	}
	if strings.Contains(field, "phone") {
		return nonDigits.ReplaceAllString(str, "")
	}
	return c.SourceValue
}

// extractTime pulls a timestamp out of the supported value shapes: a
// time.Time, an RFC 3339 string, or a map carrying a "timestamp" field.
func extractTime(v interface{}) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value, true
	case *time.Time:
		if value != nil {
			return *value, true
		}
	case string:
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t, true
		}
	case map[string]interface{}:
		if ts, ok := value["timestamp"]; ok {
			return extractTime(ts)
		}
	}
	return time.Time{}, false
}
