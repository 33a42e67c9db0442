// internal/rules/compile.go
package rules

import (
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Segment compilation.
 *
 * Compiles a validated SegmentDefinition into one predicate tree.
 *
 * Compilation workflow:
 *   1. Validate groups and rules (ValidateGroups)
 *   2. Coerce each rule value and resolve temporal values against now
 *   3. Fold each group's rules left to right:
 *        predicate = rule[0]
 *        predicate = predicate <rule[i].Connector> rule[i]   (default AND)
 *   4. Fold groups the same way with the group's own connector (default OR)
 *
 * The fold is left-associative: "a OR b AND c" means "(a OR b) AND c".
 * Connectors on the first rule of a group and on the first group are
 * ignored because they have no predecessor.
 *
 * Relative tokens such as "30d" resolve here: Count and Sample of one
 * evaluation share one instant and backends never read a clock.
 */

const (
	// DefaultRuleConnector joins rules inside a group when unset.
	DefaultRuleConnector = types.ConnectorAnd

	// DefaultGroupConnector joins groups when unset; groups are alternative
	// match sets.
	DefaultGroupConnector = types.ConnectorOr
)

// CompiledSegment is a definition ready for a ContactStore.
type CompiledSegment struct {
	SegmentID   types.SegmentID
	WorkspaceID string
	Expr        *Expr
	CompiledAt  time.Time // reference time used for relative temporal values
}

// Compile validates and folds def into a single predicate tree.
func Compile(def *types.SegmentDefinition, now time.Time) (*CompiledSegment, error) {
	if def == nil {
		return nil, ValidateGroups(nil)
	}
	if err := ValidateGroups(def.Groups); err != nil {
		return nil, err
	}

	expr, err := CompileGroups(def.Groups, now)
	if err != nil {
		return nil, err
	}

	return &CompiledSegment{
		SegmentID:   def.ID,
		WorkspaceID: def.WorkspaceID,
		Expr:        expr,
		CompiledAt:  now.UTC(),
	}, nil
}

// CompileGroups folds already-validated groups.
func CompileGroups(groups []types.RuleGroup, now time.Time) (*Expr, error) {
	var predicate *Expr
	for i, g := range groups {
		groupExpr, err := compileGroup(g, now)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			predicate = groupExpr
			continue
		}
		predicate = fold(predicate, connectorOr(g.Connector, DefaultGroupConnector), groupExpr)
	}
	if predicate == nil {
		return nil, ValidateGroups(groups)
	}
	return predicate, nil
}

// compileGroup folds the rules of one group.
func compileGroup(g types.RuleGroup, now time.Time) (*Expr, error) {
	var predicate *Expr
	for i, r := range g.Rules {
		leaf, err := compileRule(r, now)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			predicate = leaf
			continue
		}
		predicate = fold(predicate, connectorOr(r.Connector, DefaultRuleConnector), leaf)
	}
	return predicate, nil
}

// compileRule coerces the value and builds a CMP leaf.
func compileRule(r types.Rule, now time.Time) (*Expr, error) {
	kind := FieldValueKind(r.Field)
	coerced, err := Coerce(r.Value, kind)
	if err != nil {
		return nil, types.ValidationErrors{{
			Kind:    types.InvalidValue,
			RuleID:  r.ID,
			Field:   "value",
			Message: err.Error(),
		}}
	}

	operand := Operand{Kind: kind, Raw: r.Value}
	switch kind {
	case ValueText:
		operand.Text = coerced.Text
	case ValueNumeric:
		operand.Number = coerced.Number
	case ValueTemporal:
		operand.Time = coerced.Temporal.Cutoff(now)
	case ValueBoolean:
		operand.Bool = coerced.Bool
	}

	return Cmp(Comparison{
		RuleID:   r.ID,
		Field:    r.Field,
		Operator: r.Operator,
		Operand:  operand,
	}), nil
}

func fold(acc *Expr, c types.Connector, next *Expr) *Expr {
	if c == types.ConnectorOr {
		return Or(acc, next)
	}
	return And(acc, next)
}

func connectorOr(c, def types.Connector) types.Connector {
	if c == "" {
		return def
	}
	return c
}
