package detect

import (
	"fmt"
)

// ConditionParser is a recursive-descent parser for rule conditions.
//
// Grammar (precedence NOT > AND > OR, binary operators left-associative):
//
//	expr       := or
//	or         := and (OR and)*
//	and        := not (AND not)*
//	not        := NOT not | primary
//	primary    := "(" expr ")" | comparison
//	comparison := IDENT OPERATOR value | IDENT [NOT] IN "[" value ("," value)* "]"
//	value      := IDENT | STRING
//
// Example:
//
//	parser := NewConditionParser()
//	expr, err := parser.Parse(`authenticationMethod == anonymous and boundaryCategory >= demilitarizedZone`)
type ConditionParser struct {
	tokens   []Token
	position int
}

// NewConditionParser creates a new parser instance.
func NewConditionParser() *ConditionParser {
	return &ConditionParser{}
}

// Parse tokenizes and parses a condition, requiring every token to be consumed.
// The result is syntactically valid only; see Validate for attribute checks.
func (p *ConditionParser) Parse(expression string) (Expression, error) {
	if expression == "" {
		return nil, fmt.Errorf("cannot parse empty condition expression")
	}

	tokens, err := Tokenize(expression)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	p.tokens = tokens
	p.position = 0

	expr, err := p.parseOrExpression()
	if err != nil {
		return nil, err
	}

	if !p.isAtEnd() {
		current := p.peek()
		return nil, &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "end of expression",
			Context:    "unexpected tokens remain after parsing complete expression",
		}
	}

	return expr, nil
}

// Parse is a convenience wrapper around a fresh ConditionParser.
func Parse(expression string) (Expression, error) {
	return NewConditionParser().Parse(expression)
}

// parseOrExpression handles OR operators (lowest precedence).
func (p *ConditionParser) parseOrExpression() (Expression, error) {
	left, err := p.parseAndExpression()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenOR {
		orToken := p.consume()

		right, err := p.parseAndExpression()
		if err != nil {
			if p.peek().Type == TokenEOF {
				return nil, &ParseError{
					Position:   orToken.Position,
					Token:      TokenOR,
					TokenValue: orToken.Value,
					Expected:   "expression after OR operator",
					Context:    "OR operator missing right operand",
				}
			}
			return nil, fmt.Errorf("expected expression after OR at position %d: %w", orToken.Position, err)
		}

		left = &Or{Left: left, Right: right}
	}

	return left, nil
}

// parseAndExpression handles AND operators.
func (p *ConditionParser) parseAndExpression() (Expression, error) {
	left, err := p.parseNotExpression()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenAND {
		andToken := p.consume()

		right, err := p.parseNotExpression()
		if err != nil {
			if p.peek().Type == TokenEOF {
				return nil, &ParseError{
					Position:   andToken.Position,
					Token:      TokenAND,
					TokenValue: andToken.Value,
					Expected:   "expression after AND operator",
					Context:    "AND operator missing right operand",
				}
			}
			return nil, fmt.Errorf("expected expression after AND at position %d: %w", andToken.Position, err)
		}

		left = &And{Left: left, Right: right}
	}

	return left, nil
}

// parseNotExpression handles prefix NOT, allowing "not not a".
func (p *ConditionParser) parseNotExpression() (Expression, error) {
	if p.peek().Type != TokenNOT {
		return p.parsePrimaryExpression()
	}

	notToken := p.consume()
	operand, err := p.parseNotExpression()
	if err != nil {
		if p.peek().Type == TokenEOF {
			return nil, &ParseError{
				Position:   notToken.Position,
				Token:      TokenNOT,
				TokenValue: notToken.Value,
				Expected:   "expression after NOT operator",
				Context:    "NOT operator missing operand",
			}
		}
		return nil, fmt.Errorf("expected expression after NOT at position %d: %w", notToken.Position, err)
	}

	return &Not{Operand: operand}, nil
}

// parsePrimaryExpression handles parenthesized expressions and comparisons.
func (p *ConditionParser) parsePrimaryExpression() (Expression, error) {
	current := p.peek()

	switch current.Type {
	case TokenLPAREN:
		p.consume()

		expr, err := p.parseOrExpression()
		if err != nil {
			return nil, fmt.Errorf("invalid expression inside parentheses starting at position %d: %w",
				current.Position, err)
		}

		closeToken := p.peek()
		if err := p.expect(TokenRPAREN); err != nil {
			return nil, &ParseError{
				Position:   closeToken.Position,
				Token:      closeToken.Type,
				TokenValue: closeToken.Value,
				Expected:   "closing parenthesis ')'",
				Context:    fmt.Sprintf("unmatched opening parenthesis at position %d", current.Position),
			}
		}
		return expr, nil

	case TokenIDENTIFIER:
		return p.parseComparison()

	case TokenEOF:
		return nil, &ParseError{
			Position: current.Position,
			Token:    TokenEOF,
			Expected: "comparison or expression",
			Context:  "unexpected end of expression",
		}

	case TokenRPAREN:
		return nil, &ParseError{
			Position:   current.Position,
			Token:      TokenRPAREN,
			TokenValue: current.Value,
			Expected:   "comparison or expression",
			Context:    "unmatched closing parenthesis (no matching opening parenthesis)",
		}

	case TokenAND, TokenOR:
		return nil, &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "comparison or expression",
			Context:    fmt.Sprintf("%s operator missing left operand", current.Type),
		}

	default:
		return nil, &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "attribute name or parenthesized expression",
		}
	}
}

// parseComparison parses "attr op value" and "attr [not] in [v1, v2]".
func (p *ConditionParser) parseComparison() (Expression, error) {
	attr := p.consume()
	next := p.peek()

	switch next.Type {
	case TokenOPERATOR:
		p.consume()
		op, ok := parseOperatorSymbol(next.Value)
		if !ok {
			return nil, &OperatorError{Attribute: attr.Value, Operator: next.Value, Reason: "unknown operator"}
		}
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Comparison{Attribute: attr.Value, Operator: op, Values: []string{value}, Position: attr.Position}, nil

	case TokenIN:
		p.consume()
		values, err := p.parseValueList()
		if err != nil {
			return nil, err
		}
		return &Comparison{Attribute: attr.Value, Operator: OpIn, Values: values, Position: attr.Position}, nil

	case TokenNOT:
		if p.peekAhead(1).Type == TokenIN {
			p.consume()
			p.consume()
			values, err := p.parseValueList()
			if err != nil {
				return nil, err
			}
			return &Comparison{Attribute: attr.Value, Operator: OpNotIn, Values: values, Position: attr.Position}, nil
		}
	}

	return nil, &ParseError{
		Position:   next.Position,
		Token:      next.Type,
		TokenValue: next.Value,
		Expected:   "comparison operator (==, !=, <, <=, >, >=, in, not in)",
		Context:    fmt.Sprintf("attribute '%s' must be compared with a value", attr.Value),
	}
}

func (p *ConditionParser) parseValue() (string, error) {
	current := p.peek()
	if current.Type != TokenIDENTIFIER && current.Type != TokenSTRING {
		return "", &ParseError{
			Position:   current.Position,
			Token:      current.Type,
			TokenValue: current.Value,
			Expected:   "literal value",
		}
	}
	p.consume()
	return current.Value, nil
}

func (p *ConditionParser) parseValueList() ([]string, error) {
	open := p.peek()
	if err := p.expect(TokenLBRACKET); err != nil {
		return nil, &ParseError{
			Position:   open.Position,
			Token:      open.Type,
			TokenValue: open.Value,
			Expected:   "'[' starting a value list",
		}
	}

	var values []string
	for {
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)

		next := p.peek()
		switch next.Type {
		case TokenCOMMA:
			p.consume()
		case TokenRBRACKET:
			p.consume()
			return values, nil
		default:
			return nil, &ParseError{
				Position:   next.Position,
				Token:      next.Type,
				TokenValue: next.Value,
				Expected:   "',' or ']'",
				Context:    fmt.Sprintf("unterminated value list opened at position %d", open.Position),
			}
		}
	}
}

// peek returns the current token without consuming it.
func (p *ConditionParser) peek() Token {
	return p.peekAhead(0)
}

// consume advances to the next token and returns the current one.
func (p *ConditionParser) consume() Token {
	token := p.peek()
	if p.position < len(p.tokens) {
		p.position++
	}
	return token
}

// expect consumes the current token if it has the expected type.
func (p *ConditionParser) expect(expectedType TokenType) error {
	current := p.peek()
	if current.Type != expectedType {
		return fmt.Errorf("expected %s but got %s at position %d", expectedType, current.Type, current.Position)
	}
	p.consume()
	return nil
}

func (p *ConditionParser) isAtEnd() bool {
	return p.peek().Type == TokenEOF
}

// peekAhead returns the token offset positions ahead, or the trailing EOF token.
func (p *ConditionParser) peekAhead(offset int) Token {
	target := p.position + offset
	if target >= len(p.tokens) {
		if len(p.tokens) > 0 {
			return p.tokens[len(p.tokens)-1]
		}
		return Token{Type: TokenEOF}
	}
	return p.tokens[target]
}
