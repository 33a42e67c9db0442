// internal/rules/operators.go
package rules

import (
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Compare applies one Comparison to a contact attribute value. Values must
 * already carry the field's Go type (string, float64, time.Time, bool);
 * a type mismatch never matches.
 *
 * Operators:
 *   - is/is_not: case-insensitive text equality, boolean equality
 *   - contains: case-insensitive substring (text only)
 *   - greater_than/less_than/equal: numeric comparison
 *   - within: attribute at or after the cutoff
 *   - more_than: attribute strictly before the cutoff
 *
 * Missing attributes are handled by the caller (Match); Compare is never
 * called with a nil value. is_not therefore means "present and different",
 * which is also what SQL NULL semantics give the SQL backend.
 */

// Compare applies cmp to value.
func Compare(cmp *Comparison, value any) bool {
	switch cmp.Operand.Kind {
	case ValueText:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return compareText(cmp.Operator, s, cmp.Operand.Text)
	case ValueNumeric:
		n, ok := toFloat64(value)
		if !ok {
			return false
		}
		return compareNumeric(cmp.Operator, n, cmp.Operand.Number)
	case ValueTemporal:
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		return compareTemporal(cmp.Operator, t, cmp.Operand.Time)
	case ValueBoolean:
		b, ok := value.(bool)
		if !ok {
			return false
		}
		return compareBoolean(cmp.Operator, b, cmp.Operand.Bool)
	default:
		return false
	}
}

func compareText(op types.OperatorKind, value, target string) bool {
	switch op {
	case types.OpIs:
		return strings.EqualFold(value, target)
	case types.OpIsNot:
		return !strings.EqualFold(value, target)
	case types.OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(target))
	default:
		return false
	}
}

func compareNumeric(op types.OperatorKind, value, target float64) bool {
	switch op {
	case types.OpGreaterThan:
		return value > target
	case types.OpLessThan:
		return value < target
	case types.OpEqual:
		return value == target
	default:
		return false
	}
}

func compareTemporal(op types.OperatorKind, value, cutoff time.Time) bool {
	switch op {
	case types.OpWithin:
		return !value.Before(cutoff)
	case types.OpMoreThan:
		return value.Before(cutoff)
	default:
		return false
	}
}

func compareBoolean(op types.OperatorKind, value, target bool) bool {
	switch op {
	case types.OpIs:
		return value == target
	case types.OpIsNot:
		return value != target
	default:
		return false
	}
}

// toFloat64 converts value to float64 if it's a numeric type.
// Handles float64, int, int64 from JSON decoding and database scans.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
