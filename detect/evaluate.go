package detect

import (
	"fmt"

	"threatgate/core"
)

// TraceEntry records the result of one expression node.
type TraceEntry struct {
	Node   Expression
	Depth  int
	Result bool
	// Actual is the element value a comparison saw; empty for composite nodes
	Actual string
}

// EvaluationContext holds the result of every node evaluated for a single
// (rule, element) pair. A context must not be reused across pairs or shared
// between goroutines.
type EvaluationContext struct {
	results map[Expression]bool
	trace   []TraceEntry
}

// NewEvaluationContext returns an empty context.
func NewEvaluationContext() *EvaluationContext {
	return &EvaluationContext{results: make(map[Expression]bool)}
}

// Result returns the recorded result of node.
func (c *EvaluationContext) Result(node Expression) (bool, bool) {
	result, ok := c.results[node]
	return result, ok
}

// Trace returns the node results in the order their evaluation completed,
// children before parents.
func (c *EvaluationContext) Trace() []TraceEntry {
	return c.trace
}

// Len returns the number of nodes recorded.
func (c *EvaluationContext) Len() int {
	return len(c.trace)
}

func (c *EvaluationContext) record(node Expression, depth int, actual string, result bool) {
	c.results[node] = result
	c.trace = append(c.trace, TraceEntry{Node: node, Depth: depth, Result: result, Actual: actual})
}

// Evaluate computes expr against element and records every node in ctx.
//
// Both operands of And and Or are always evaluated, so the trace holds a
// result for every node of the tree. Attributes the element does not declare
// resolve to core.UndefinedValue. Attributes and operators the element kind
// does not support yield an error rather than false.
func Evaluate(expr Expression, element core.Element, ctx *EvaluationContext) (bool, error) {
	if ctx == nil {
		ctx = NewEvaluationContext()
	}
	return evaluate(expr, element, ctx, 0)
}

func evaluate(expr Expression, element core.Element, ctx *EvaluationContext, depth int) (bool, error) {
	switch n := expr.(type) {
	case *Comparison:
		actual := element.Attr(n.Attribute)
		result, err := compare(n, element.Kind, actual)
		if err != nil {
			return false, err
		}
		ctx.record(n, depth, actual, result)
		return result, nil

	case *And:
		left, leftErr := evaluate(n.Left, element, ctx, depth+1)
		right, rightErr := evaluate(n.Right, element, ctx, depth+1)
		if leftErr != nil {
			return false, leftErr
		}
		if rightErr != nil {
			return false, rightErr
		}
		result := left && right
		ctx.record(n, depth, "", result)
		return result, nil

	case *Or:
		left, leftErr := evaluate(n.Left, element, ctx, depth+1)
		right, rightErr := evaluate(n.Right, element, ctx, depth+1)
		if leftErr != nil {
			return false, leftErr
		}
		if rightErr != nil {
			return false, rightErr
		}
		result := left || right
		ctx.record(n, depth, "", result)
		return result, nil

	case *Not:
		operand, err := evaluate(n.Operand, element, ctx, depth+1)
		if err != nil {
			return false, err
		}
		ctx.record(n, depth, "", !operand)
		return !operand, nil

	case nil:
		return false, fmt.Errorf("expression is nil")

	default:
		return false, fmt.Errorf("unsupported expression node %T", expr)
	}
}

// compare applies a comparison leaf to the resolved element value.
func compare(c *Comparison, kind core.ElementKind, actual string) (bool, error) {
	spec, ok := core.LookupAttribute(kind, c.Attribute)
	if !ok {
		return false, &UnknownAttributeError{Attribute: c.Attribute, Kind: string(kind), Available: core.AttributeNames(kind)}
	}
	if len(c.Values) == 0 {
		return false, &LiteralError{Attribute: c.Attribute}
	}
	if normalized, ok := spec.Canonical(actual); ok {
		actual = normalized
	}

	switch c.Operator {
	case OpEqual, OpNotEqual:
		expected, err := canonicalLiteral(spec, c.Literal())
		if err != nil {
			return false, err
		}
		return (actual == expected) == (c.Operator == OpEqual), nil

	case OpIn, OpNotIn:
		found := false
		for _, v := range c.Values {
			expected, err := canonicalLiteral(spec, v)
			if err != nil {
				return false, err
			}
			if actual == expected {
				found = true
			}
		}
		return found == (c.Operator == OpIn), nil

	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if spec.Type != core.AttrOrdered {
			return false, &OperatorError{Attribute: c.Attribute, Operator: c.Operator.String(), Reason: fmt.Sprintf("%s attributes are not ordered", spec.Type)}
		}
		expected, err := canonicalLiteral(spec, c.Literal())
		if err != nil {
			return false, err
		}
		left, ok := spec.Rank(actual)
		if !ok {
			return false, &LiteralError{Attribute: c.Attribute, Literal: actual, Allowed: spec.Values}
		}
		right, _ := spec.Rank(expected)
		switch c.Operator {
		case OpLess:
			return left < right, nil
		case OpLessEqual:
			return left <= right, nil
		case OpGreater:
			return left > right, nil
		default:
			return left >= right, nil
		}

	default:
		return false, &OperatorError{Attribute: c.Attribute, Operator: c.Operator.String(), Reason: "unknown operator"}
	}
}

func canonicalLiteral(spec core.AttributeSpec, literal string) (string, error) {
	canonical, ok := spec.Canonical(literal)
	if !ok {
		return "", &LiteralError{Attribute: spec.Name, Literal: literal, Allowed: spec.Values}
	}
	return canonical, nil
}
