// internal/rules/expr.go
package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/solatis/segmentkeeper/internal/types"
)

/*
 * Store-agnostic expression tree.
 *
 *   AND(e1, e2, ...) | OR(e1, e2, ...) | CMP(field, op, operand)
 *
 * Backends translate the tree independently: the memory store walks it with
 * Match, the SQL store renders a parameterized WHERE clause. Operands are
 * fully typed and temporal operands are already absolute, so a backend never
 * needs a clock.
 */

// ExprKind discriminates Expr nodes.
type ExprKind int

const (
	ExprCmp ExprKind = iota
	ExprAnd
	ExprOr
)

func (k ExprKind) String() string {
	switch k {
	case ExprAnd:
		return "AND"
	case ExprOr:
		return "OR"
	default:
		return "CMP"
	}
}

// Operand is a typed comparison value.
type Operand struct {
	Kind   ValueKind
	Raw    string    // value as written in the rule
	Text   string    // ValueText
	Number float64   // ValueNumeric
	Time   time.Time // ValueTemporal, absolute cutoff in UTC
	Bool   bool      // ValueBoolean
}

// Comparison is the payload of a CMP node.
type Comparison struct {
	RuleID   types.RuleID
	Field    types.FieldKind
	Operator types.OperatorKind
	Operand  Operand
}

// Expr is one node of the predicate tree.
// AND/OR nodes have >= 2 children; CMP nodes have Cmp set.
type Expr struct {
	Kind     ExprKind
	Children []*Expr
	Cmp      *Comparison
}

// Cmp builds a leaf node.
func Cmp(c Comparison) *Expr {
	return &Expr{Kind: ExprCmp, Cmp: &c}
}

// And builds an AND node, flattening nested ANDs.
func And(children ...*Expr) *Expr {
	return join(ExprAnd, children)
}

// Or builds an OR node, flattening nested ORs.
func Or(children ...*Expr) *Expr {
	return join(ExprOr, children)
}

func join(kind ExprKind, children []*Expr) *Expr {
	var flat []*Expr
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Kind == kind {
			flat = append(flat, c.Children...)
			continue
		}
		flat = append(flat, c)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Expr{Kind: kind, Children: flat}
}

// Leaves returns every comparison in left-to-right order.
func (e *Expr) Leaves() []*Comparison {
	var out []*Comparison
	e.walk(func(n *Expr) {
		if n.Kind == ExprCmp {
			out = append(out, n.Cmp)
		}
	})
	return out
}

func (e *Expr) walk(fn func(*Expr)) {
	if e == nil {
		return
	}
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

// Clone deep-copies the tree.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	out := &Expr{Kind: e.Kind}
	if e.Cmp != nil {
		c := *e.Cmp
		out.Cmp = &c
	}
	if e.Children != nil {
		out.Children = make([]*Expr, len(e.Children))
		for i, c := range e.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// String renders a deterministic form, e.g.
// AND(CMP(platform is "TikTok"), CMP(engagement greater_than 50)).
func (e *Expr) String() string {
	var b strings.Builder
	e.render(&b)
	return b.String()
}

func (e *Expr) render(b *strings.Builder) {
	if e == nil {
		b.WriteString("<nil>")
		return
	}
	if e.Kind == ExprCmp {
		b.WriteString("CMP(")
		b.WriteString(string(e.Cmp.Field))
		b.WriteByte(' ')
		b.WriteString(string(e.Cmp.Operator))
		b.WriteByte(' ')
		b.WriteString(e.Cmp.Operand.String())
		b.WriteByte(')')
		return
	}
	b.WriteString(e.Kind.String())
	b.WriteByte('(')
	for i, c := range e.Children {
		if i > 0 {
			b.WriteString(", ")
		}
		c.render(b)
	}
	b.WriteByte(')')
}

func (o Operand) String() string {
	switch o.Kind {
	case ValueText:
		return strconv.Quote(o.Text)
	case ValueNumeric:
		return strconv.FormatFloat(o.Number, 'f', -1, 64)
	case ValueTemporal:
		return o.Time.UTC().Format(time.RFC3339)
	case ValueBoolean:
		return strconv.FormatBool(o.Bool)
	default:
		return strconv.Quote(o.Raw)
	}
}
