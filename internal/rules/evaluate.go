// internal/rules/evaluate.go
package rules

import "github.com/solatis/segmentkeeper/internal/types"

/*
 * In-memory predicate evaluation.
 *
 * Match walks the expression tree against one contact with short-circuit
 * semantics: an AND node stops at the first non-matching child, an OR node
 * stops at the first matching child. Run Optimize first to put cheap
 * children in front.
 *
 * Missing attributes never match, whatever the operator. This mirrors SQL
 * three-valued logic where a comparison with NULL is not true.
 */

// Match reports whether contact satisfies expr. A nil expr matches nothing.
func Match(expr *Expr, contact types.Contact) bool {
	if expr == nil {
		return false
	}
	switch expr.Kind {
	case ExprAnd:
		for _, c := range expr.Children {
			if !Match(c, contact) {
				return false
			}
		}
		return len(expr.Children) > 0
	case ExprOr:
		for _, c := range expr.Children {
			if Match(c, contact) {
				return true
			}
		}
		return false
	default:
		if expr.Cmp == nil {
			return false
		}
		value, ok := contact.Attribute(expr.Cmp.Field)
		if !ok {
			return false
		}
		return Compare(expr.Cmp, value)
	}
}

// Predicate adapts expr into a reusable contact filter.
func Predicate(expr *Expr) func(types.Contact) bool {
	optimized := Optimize(expr)
	return func(c types.Contact) bool {
		return Match(optimized, c)
	}
}
