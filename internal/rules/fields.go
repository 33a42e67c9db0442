// internal/rules/fields.go
package rules

import "github.com/solatis/segmentkeeper/internal/types"

/*
 * Field vocabulary and operator table.
 *
 * Every FieldKind maps to exactly one ValueKind and a fixed operator set.
 * The table is a versioned external contract: UI builders, stored segments
 * and SQL backends all depend on it. Bump VocabularyVersion whenever a field
 * or operator is added, removed or re-typed.
 *
 * Lookups go through a switch so adding a FieldKind without a table entry
 * falls into the default branch and is rejected as InvalidField.
 */

// VocabularyVersion identifies the current field/operator table.
const VocabularyVersion = 1

// ValueKind is the declared type of a field's values.
type ValueKind int

const (
	ValueUnspecified ValueKind = iota
	ValueText
	ValueNumeric
	ValueTemporal
	ValueBoolean
)

func (k ValueKind) String() string {
	switch k {
	case ValueText:
		return "text"
	case ValueNumeric:
		return "numeric"
	case ValueTemporal:
		return "temporal"
	case ValueBoolean:
		return "boolean"
	default:
		return "unspecified"
	}
}

var (
	textEqualityOps = []types.OperatorKind{types.OpIs, types.OpIsNot}
	textSearchOps   = []types.OperatorKind{types.OpIs, types.OpIsNot, types.OpContains}
	numericOps      = []types.OperatorKind{types.OpGreaterThan, types.OpLessThan, types.OpEqual}
	temporalOps     = []types.OperatorKind{types.OpWithin, types.OpMoreThan}
	booleanOps      = []types.OperatorKind{types.OpIs, types.OpIsNot}
)

// fieldOrder is the display order of the vocabulary.
var fieldOrder = []types.FieldKind{
	types.FieldPlatform,
	types.FieldLocation,
	types.FieldEngagement,
	types.FieldLastActivity,
	types.FieldSignupDate,
	types.FieldEmailConsent,
	types.FieldSMSConsent,
}

// FieldValueKind returns the declared value kind of field.
// ValueUnspecified means the field is unknown.
func FieldValueKind(field types.FieldKind) ValueKind {
	switch field {
	case types.FieldPlatform, types.FieldLocation:
		return ValueText
	case types.FieldEngagement:
		return ValueNumeric
	case types.FieldLastActivity, types.FieldSignupDate:
		return ValueTemporal
	case types.FieldEmailConsent, types.FieldSMSConsent:
		return ValueBoolean
	default:
		return ValueUnspecified
	}
}

// AllowedOperators returns the operator set of field, nil for unknown fields.
// The returned slice is a copy.
func AllowedOperators(field types.FieldKind) []types.OperatorKind {
	var ops []types.OperatorKind
	switch field {
	case types.FieldPlatform:
		ops = textEqualityOps
	case types.FieldLocation:
		ops = textSearchOps
	case types.FieldEngagement:
		ops = numericOps
	case types.FieldLastActivity, types.FieldSignupDate:
		ops = temporalOps
	case types.FieldEmailConsent, types.FieldSMSConsent:
		ops = booleanOps
	default:
		return nil
	}
	return append([]types.OperatorKind(nil), ops...)
}

// IsAllowed reports whether op is legal for field.
func IsAllowed(field types.FieldKind, op types.OperatorKind) bool {
	for _, allowed := range AllowedOperators(field) {
		if allowed == op {
			return true
		}
	}
	return false
}

// KnownFields lists every field in display order.
func KnownFields() []types.FieldKind {
	return append([]types.FieldKind(nil), fieldOrder...)
}

// KnownOperators lists every operator once, in first-use order.
func KnownOperators() []types.OperatorKind {
	seen := make(map[types.OperatorKind]bool)
	var out []types.OperatorKind
	for _, f := range fieldOrder {
		for _, op := range AllowedOperators(f) {
			if !seen[op] {
				seen[op] = true
				out = append(out, op)
			}
		}
	}
	return out
}

// FieldSpec describes one vocabulary entry for API consumers.
type FieldSpec struct {
	Field     types.FieldKind      `json:"field"`
	ValueKind string               `json:"valueKind"`
	Operators []types.OperatorKind `json:"operators"`
}

// Vocabulary is the versioned field/operator table.
type Vocabulary struct {
	Version int         `json:"version"`
	Fields  []FieldSpec `json:"fields"`
}

// FieldVocabulary returns the full table.
func FieldVocabulary() Vocabulary {
	v := Vocabulary{Version: VocabularyVersion}
	for _, f := range fieldOrder {
		v.Fields = append(v.Fields, FieldSpec{
			Field:     f,
			ValueKind: FieldValueKind(f).String(),
			Operators: AllowedOperators(f),
		})
	}
	return v
}
