package contacts

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Expression to SQL translation.
 *
 *   AND(a, b) -> (a AND b)
 *   OR(a, b)  -> (a OR b)
 *   CMP       -> column comparison with one bound parameter
 *
 * Placeholders are written as ? and rebound by the caller for the driver.
 * Every value is a bound parameter; column names come from a fixed table,
 * never from input.
 *
 * Text comparisons lower both sides, contains uses LIKE with escaped
 * wildcards. NULL columns fail every comparison, which is the missing
 * attribute rule of the in-memory evaluator.
 *
 * SQLite stores temporal columns as fixed-width UTC text (SQLiteTimeFormat)
 * so the cutoff is bound in the same format; PostgreSQL binds time.Time.
 */

// SQLiteTimeFormat is the storage format of temporal contact columns in SQLite.
const SQLiteTimeFormat = "2006-01-02T15:04:05Z"

var fieldColumns = map[types.FieldKind]string{
	types.FieldPlatform:     "platform",
	types.FieldLocation:     "location",
	types.FieldEngagement:   "engagement",
	types.FieldLastActivity: "last_activity",
	types.FieldSignupDate:   "signup_date",
	types.FieldEmailConsent: "email_consent",
	types.FieldSMSConsent:   "sms_consent",
}

// Translate renders expr as a WHERE fragment with ? placeholders.
func Translate(expr *rules.Expr, driver string) (string, []any, error) {
	var b strings.Builder
	var args []any
	if err := translate(&b, &args, expr, driver); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

func translate(b *strings.Builder, args *[]any, expr *rules.Expr, driver string) error {
	if expr == nil {
		return fmt.Errorf("%w: empty expression", types.ErrInvalidPredicate)
	}

	switch expr.Kind {
	case rules.ExprAnd, rules.ExprOr:
		if len(expr.Children) == 0 {
			return fmt.Errorf("%w: %s without operands", types.ErrInvalidPredicate, expr.Kind)
		}
		sep := " AND "
		if expr.Kind == rules.ExprOr {
			sep = " OR "
		}
		b.WriteByte('(')
		for i, c := range expr.Children {
			if i > 0 {
				b.WriteString(sep)
			}
			if err := translate(b, args, c, driver); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	case rules.ExprCmp:
		if expr.Cmp == nil {
			return fmt.Errorf("%w: comparison without payload", types.ErrInvalidPredicate)
		}
		clause, arg, err := comparison(expr.Cmp, driver)
		if err != nil {
			return err
		}
		b.WriteString(clause)
		*args = append(*args, arg)
		return nil
	default:
		return fmt.Errorf("%w: unknown node kind %d", types.ErrInvalidPredicate, expr.Kind)
	}
}

func comparison(cmp *rules.Comparison, driver string) (string, any, error) {
	col, ok := fieldColumns[cmp.Field]
	if !ok || !rules.IsAllowed(cmp.Field, cmp.Operator) {
		return "", nil, fmt.Errorf("%w: %s %s", types.ErrInvalidPredicate, cmp.Field, cmp.Operator)
	}
	if cmp.Operand.Kind != rules.FieldValueKind(cmp.Field) {
		return "", nil, fmt.Errorf("%w: %s operand for %s", types.ErrInvalidPredicate, cmp.Operand.Kind, cmp.Field)
	}

	op := cmp.Operand
	switch cmp.Operator {
	case types.OpIs:
		if op.Kind == rules.ValueBoolean {
			return col + " = ?", op.Bool, nil
		}
		return "LOWER(" + col + ") = LOWER(?)", op.Text, nil
	case types.OpIsNot:
		if op.Kind == rules.ValueBoolean {
			return col + " <> ?", op.Bool, nil
		}
		return "LOWER(" + col + ") <> LOWER(?)", op.Text, nil
	case types.OpContains:
		return "LOWER(" + col + `) LIKE ? ESCAPE '\'`, "%" + escapeLike(strings.ToLower(op.Text)) + "%", nil
	case types.OpGreaterThan:
		return col + " > ?", op.Number, nil
	case types.OpLessThan:
		return col + " < ?", op.Number, nil
	case types.OpEqual:
		return col + " = ?", op.Number, nil
	case types.OpWithin:
		return col + " >= ?", timeArg(op.Time, driver), nil
	case types.OpMoreThan:
		return col + " < ?", timeArg(op.Time, driver), nil
	default:
		return "", nil, fmt.Errorf("%w: operator %s", types.ErrInvalidPredicate, cmp.Operator)
	}
}

func timeArg(t time.Time, driver string) any {
	if driver == "sqlite3" {
		return t.UTC().Format(SQLiteTimeFormat)
	}
	return t.UTC()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
