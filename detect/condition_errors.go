package detect

import (
	"fmt"
	"strings"
)

// ParseError represents a syntax error in a rule condition.
type ParseError struct {
	// Position is the byte offset in the condition where the error occurred
	Position int
	// Token is the token that was encountered
	Token TokenType
	// TokenValue is the string value of the token
	TokenValue string
	// Expected describes what was expected at this position
	Expected string
	// Context provides additional detail
	Context string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("parse error at position %d: expected %s but got %s (%q) - %s",
			e.Position, e.Expected, e.Token, e.TokenValue, e.Context)
	}
	return fmt.Sprintf("parse error at position %d: expected %s but got %s (%q)",
		e.Position, e.Expected, e.Token, e.TokenValue)
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *ParseError) Unwrap() error {
	return nil
}

// Is returns true if the target error is a ParseError at the same position.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return e.Position == t.Position
}

// TokenizationError represents a character the tokenizer cannot place.
type TokenizationError struct {
	Position    int
	InvalidChar rune
	// Context provides surrounding text for debugging
	Context string
}

// Error implements the error interface for TokenizationError.
func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenization error at position %d: invalid character %q (context: %q)",
		e.Position, e.InvalidChar, e.Context)
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *TokenizationError) Unwrap() error {
	return nil
}

// Is returns true if the target error is a TokenizationError at the same position.
func (e *TokenizationError) Is(target error) bool {
	t, ok := target.(*TokenizationError)
	if !ok {
		return false
	}
	return e.Position == t.Position
}

// UnknownAttributeError is returned when a comparison names an attribute the
// element kind does not declare.
type UnknownAttributeError struct {
	Attribute string
	Kind      string
	// Available lists the attributes declared for Kind
	Available []string
}

// Error implements the error interface for UnknownAttributeError.
// The message suggests similarly named attributes when there are any.
func (e *UnknownAttributeError) Error() string {
	suggestions := findSimilarNames(e.Attribute, e.Available, 3)
	if len(suggestions) > 0 {
		return fmt.Sprintf("unknown attribute '%s' for %s (did you mean: %s?)",
			e.Attribute, e.Kind, strings.Join(suggestions, ", "))
	}
	return fmt.Sprintf("unknown attribute '%s' for %s (available: %v)", e.Attribute, e.Kind, e.Available)
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *UnknownAttributeError) Unwrap() error {
	return nil
}

// Is matches an UnknownAttributeError for the same attribute, or any when the target Attribute is empty.
func (e *UnknownAttributeError) Is(target error) bool {
	t, ok := target.(*UnknownAttributeError)
	if !ok {
		return false
	}
	return t.Attribute == "" || e.Attribute == t.Attribute
}

// OperatorError is returned when an operator is unknown or not applicable to
// the attribute it is used with (ordering on an unordered attribute).
type OperatorError struct {
	Attribute string
	Operator  string
	Reason    string
}

// Error implements the error interface for OperatorError.
func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator '%s' not allowed on attribute '%s': %s", e.Operator, e.Attribute, e.Reason)
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *OperatorError) Unwrap() error {
	return nil
}

// Is matches any OperatorError.
func (e *OperatorError) Is(target error) bool {
	_, ok := target.(*OperatorError)
	return ok
}

// LiteralError is returned when a comparison literal is not a legal value of its attribute.
type LiteralError struct {
	Attribute string
	Literal   string
	Allowed   []string
}

// Error implements the error interface for LiteralError.
func (e *LiteralError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("invalid value %q for attribute '%s' (allowed: %s)",
			e.Literal, e.Attribute, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("invalid value %q for attribute '%s'", e.Literal, e.Attribute)
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *LiteralError) Unwrap() error {
	return nil
}

// Is matches any LiteralError.
func (e *LiteralError) Is(target error) bool {
	_, ok := target.(*LiteralError)
	return ok
}

// ValidationError collects every problem found in one condition.
type ValidationError struct {
	Errors     []error
	Expression string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation error: no specific errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation failed for condition %q: %v", e.Expression, e.Errors[0])
	}

	var errMsgs []string
	for i, err := range e.Errors {
		errMsgs = append(errMsgs, fmt.Sprintf("%d. %v", i+1, err))
	}
	return fmt.Sprintf("validation failed for condition %q with %d errors:\n%s",
		e.Expression, len(e.Errors), strings.Join(errMsgs, "\n"))
}

// Unwrap returns the collected errors so errors.Is and errors.As see each of them.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// findSimilarNames suggests names sharing a three letter prefix with target,
// then names containing or contained in target.
func findSimilarNames(target string, available []string, maxResults int) []string {
	if len(available) == 0 || target == "" {
		return nil
	}

	var suggestions []string
	seen := make(map[string]bool)
	targetLower := strings.ToLower(target)

	prefixLen := 3
	if len(targetLower) < prefixLen {
		prefixLen = len(targetLower)
	}
	targetPrefix := targetLower[:prefixLen]

	for _, name := range available {
		nameLower := strings.ToLower(name)
		if len(nameLower) >= prefixLen && nameLower[:prefixLen] == targetPrefix {
			suggestions = append(suggestions, name)
			seen[name] = true
			if len(suggestions) >= maxResults {
				return suggestions
			}
		}
	}

	for _, name := range available {
		if seen[name] {
			continue
		}
		nameLower := strings.ToLower(name)
		if strings.Contains(nameLower, targetLower) || strings.Contains(targetLower, nameLower) {
			suggestions = append(suggestions, name)
			if len(suggestions) >= maxResults {
				return suggestions
			}
		}
	}

	return suggestions
}
