package detect

import (
	"fmt"

	"threatgate/core"
)

// Validate checks every comparison of expr against the attribute schema of
// kind and rewrites literals to their canonical spelling. All problems are
// reported together in a *ValidationError.
func Validate(expr Expression, kind core.ElementKind, source string) error {
	if expr == nil {
		return &ValidationError{Expression: source, Errors: []error{fmt.Errorf("condition is empty")}}
	}

	var errs []error
	for _, c := range Comparisons(expr) {
		spec, ok := core.LookupAttribute(kind, c.Attribute)
		if !ok {
			errs = append(errs, &UnknownAttributeError{
				Attribute: c.Attribute,
				Kind:      string(kind),
				Available: core.AttributeNames(kind),
			})
			continue
		}

		if _, known := operatorSymbols[c.Operator]; !known {
			errs = append(errs, &OperatorError{Attribute: c.Attribute, Operator: c.Operator.String(), Reason: "unknown operator"})
			continue
		}
		if c.Operator.IsOrdering() && spec.Type != core.AttrOrdered {
			errs = append(errs, &OperatorError{
				Attribute: c.Attribute,
				Operator:  c.Operator.String(),
				Reason:    fmt.Sprintf("%s attributes are not ordered", spec.Type),
			})
			continue
		}
		if len(c.Values) == 0 {
			errs = append(errs, &LiteralError{Attribute: c.Attribute})
			continue
		}

		for i, v := range c.Values {
			canonical, ok := spec.Canonical(v)
			if !ok {
				errs = append(errs, &LiteralError{Attribute: c.Attribute, Literal: v, Allowed: spec.Values})
				continue
			}
			c.Values[i] = canonical
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Expression: source, Errors: errs}
	}
	return nil
}

// Compile parses condition and validates it for elements of kind.
func Compile(condition string, kind core.ElementKind) (Expression, error) {
	expr, err := Parse(condition)
	if err != nil {
		return nil, err
	}
	if err := Validate(expr, kind, condition); err != nil {
		return nil, err
	}
	return expr, nil
}
