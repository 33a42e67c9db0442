// internal/rules/cost.go
package rules

import (
	"sort"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Cost model for in-memory evaluation order.
 *
 * cost(CMP) = operator_cost * value_kind_multiplier
 * cost(AND/OR) = sum of children
 *
 * Optimize stably sorts the children of every AND/OR node by ascending cost
 * so Match short-circuits on cheap comparisons first. AND and OR are
 * commutative in a side-effect-free evaluation, so ordering never changes
 * the result; the stable sort keeps equal-cost children in rule order for
 * deterministic String() output.
 */

const (
	// Operator base costs
	CostEquality = 5
	CostCompare  = 7
	CostContains = 10

	// Value kind multipliers
	MultiplierBool     = 1
	MultiplierNumeric  = 1
	MultiplierTemporal = 2
	MultiplierText     = 48
)

// CalculateCost computes the evaluation cost of expr.
func CalculateCost(expr *Expr) int {
	if expr == nil {
		return 0
	}
	if expr.Kind == ExprCmp {
		if expr.Cmp == nil {
			return 0
		}
		return operatorCost(expr.Cmp.Operator) * kindMultiplier(expr.Cmp.Operand.Kind)
	}
	total := 0
	for _, c := range expr.Children {
		total += CalculateCost(c)
	}
	return total
}

// Optimize returns a copy of expr with cost-ordered children.
func Optimize(expr *Expr) *Expr {
	out := expr.Clone()
	optimizeInPlace(out)
	return out
}

func optimizeInPlace(expr *Expr) {
	if expr == nil || expr.Kind == ExprCmp {
		return
	}
	for _, c := range expr.Children {
		optimizeInPlace(c)
	}
	sort.SliceStable(expr.Children, func(i, j int) bool {
		return CalculateCost(expr.Children[i]) < CalculateCost(expr.Children[j])
	})
}

func operatorCost(op types.OperatorKind) int {
	switch op {
	case types.OpIs, types.OpIsNot, types.OpEqual:
		return CostEquality
	case types.OpGreaterThan, types.OpLessThan, types.OpWithin, types.OpMoreThan:
		return CostCompare
	case types.OpContains:
		return CostContains
	default:
		return CostEquality
	}
}

func kindMultiplier(k ValueKind) int {
	switch k {
	case ValueBoolean:
		return MultiplierBool
	case ValueNumeric:
		return MultiplierNumeric
	case ValueTemporal:
		return MultiplierTemporal
	default:
		return MultiplierText
	}
}
