package detect

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is a comparison operator of a condition leaf.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpIn
	OpNotIn
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

var operatorSymbols = map[Operator]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpIn:           "in",
	OpNotIn:        "not in",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
}

func (op Operator) String() string {
	if s, ok := operatorSymbols[op]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(op))
}

// IsOrdering reports whether op needs an ordered attribute.
func (op Operator) IsOrdering() bool {
	return op == OpLess || op == OpLessEqual || op == OpGreater || op == OpGreaterEqual
}

// IsMembership reports whether op compares against a value list.
func (op Operator) IsMembership() bool {
	return op == OpIn || op == OpNotIn
}

func parseOperatorSymbol(symbol string) (Operator, bool) {
	for op, s := range operatorSymbols {
		if s == symbol && !op.IsMembership() {
			return op, true
		}
	}
	return 0, false
}

// Expression is a node of a compiled rule condition. The set of node types is
// closed: *Comparison, *And, *Or and *Not.
type Expression interface {
	fmt.Stringer
	expressionNode()
}

// Comparison tests one attribute of an element against literal values.
// Membership operators use every entry of Values; the others use Values[0].
type Comparison struct {
	Attribute string
	Operator  Operator
	Values    []string
	// Position is the byte offset of the attribute in the source condition
	Position int
}

// And is true when both operands are true.
type And struct {
	Left  Expression
	Right Expression
}

// Or is true when at least one operand is true.
type Or struct {
	Left  Expression
	Right Expression
}

// Not inverts its operand.
type Not struct {
	Operand Expression
}

func (*Comparison) expressionNode() {}
func (*And) expressionNode()        {}
func (*Or) expressionNode()         {}
func (*Not) expressionNode()        {}

// Literal returns the single comparison value.
func (c *Comparison) Literal() string {
	if len(c.Values) == 0 {
		return ""
	}
	return c.Values[0]
}

func (c *Comparison) String() string {
	if c.Operator.IsMembership() {
		quoted := make([]string, len(c.Values))
		for i, v := range c.Values {
			quoted[i] = quoteLiteral(v)
		}
		return fmt.Sprintf("%s %s [%s]", c.Attribute, c.Operator, strings.Join(quoted, ", "))
	}
	return fmt.Sprintf("%s %s %s", c.Attribute, c.Operator, quoteLiteral(c.Literal()))
}

func (n *And) String() string {
	return fmt.Sprintf("(%s and %s)", n.Left, n.Right)
}

func (n *Or) String() string {
	return fmt.Sprintf("(%s or %s)", n.Left, n.Right)
}

func (n *Not) String() string {
	return fmt.Sprintf("not %s", n.Operand)
}

func quoteLiteral(v string) string {
	for _, r := range v {
		if !(r == '_' || r == '.' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return strconv.Quote(v)
		}
	}
	if _, keyword := keywords[strings.ToLower(v)]; keyword || v == "" {
		return strconv.Quote(v)
	}
	return v
}

// Walk calls fn for every node of expr in evaluation order, parents first.
func Walk(expr Expression, fn func(Expression)) {
	if expr == nil {
		return
	}
	fn(expr)
	switch n := expr.(type) {
	case *And:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Or:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Not:
		Walk(n.Operand, fn)
	}
}

// Comparisons returns the leaves of expr from left to right.
func Comparisons(expr Expression) []*Comparison {
	var leaves []*Comparison
	Walk(expr, func(node Expression) {
		if c, ok := node.(*Comparison); ok {
			leaves = append(leaves, c)
		}
	})
	return leaves
}
