package detect

import (
	"fmt"
	"regexp"
	"strings"
)

// TokenType represents the type of a token in a rule condition.
type TokenType int

const (
	// TokenEOF represents end of input
	TokenEOF TokenType = iota
	// TokenAND represents "and" or "&&"
	TokenAND
	// TokenOR represents "or" or "||"
	TokenOR
	// TokenNOT represents "not" or "!"
	TokenNOT
	// TokenIN represents the membership keyword "in"
	TokenIN
	// TokenLPAREN represents a left parenthesis
	TokenLPAREN
	// TokenRPAREN represents a right parenthesis
	TokenRPAREN
	// TokenLBRACKET opens a membership list
	TokenLBRACKET
	// TokenRBRACKET closes a membership list
	TokenRBRACKET
	// TokenCOMMA separates membership list values
	TokenCOMMA
	// TokenOPERATOR represents a comparison operator (==, !=, <, <=, >, >=)
	TokenOPERATOR
	// TokenSTRING represents a quoted literal
	TokenSTRING
	// TokenIDENTIFIER represents an attribute name or a bare literal
	TokenIDENTIFIER
)

// String returns the string representation of a token type.
func (tt TokenType) String() string {
	switch tt {
	case TokenEOF:
		return "EOF"
	case TokenAND:
		return "AND"
	case TokenOR:
		return "OR"
	case TokenNOT:
		return "NOT"
	case TokenIN:
		return "IN"
	case TokenLPAREN:
		return "LPAREN"
	case TokenRPAREN:
		return "RPAREN"
	case TokenLBRACKET:
		return "LBRACKET"
	case TokenRBRACKET:
		return "RBRACKET"
	case TokenCOMMA:
		return "COMMA"
	case TokenOPERATOR:
		return "OPERATOR"
	case TokenSTRING:
		return "STRING"
	case TokenIDENTIFIER:
		return "IDENTIFIER"
	default:
		return "UNKNOWN"
	}
}

// Token represents a single token in a condition, with its byte offset for error reporting.
type Token struct {
	Type     TokenType
	Value    string
	Position int
}

// String returns a string representation of the token for debugging.
func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at pos %d", t.Type, t.Value, t.Position)
}

type tokenPattern struct {
	Type    TokenType
	Pattern *regexp.Regexp
}

var (
	// tokenPatterns is tried in order. Comparison operators precede the
	// symbolic NOT so that "!=" is never read as "!" followed by "=".
	tokenPatterns = []tokenPattern{
		{TokenOPERATOR, regexp.MustCompile(`^(==|!=|<=|>=|<|>)`)},
		{TokenAND, regexp.MustCompile(`^&&`)},
		{TokenOR, regexp.MustCompile(`^\|\|`)},
		{TokenNOT, regexp.MustCompile(`^!`)},

		{TokenLPAREN, regexp.MustCompile(`^\(`)},
		{TokenRPAREN, regexp.MustCompile(`^\)`)},
		{TokenLBRACKET, regexp.MustCompile(`^\[`)},
		{TokenRBRACKET, regexp.MustCompile(`^\]`)},
		{TokenCOMMA, regexp.MustCompile(`^,`)},

		{TokenSTRING, regexp.MustCompile(`^"[^"]*"|^'[^']*'`)},
		{TokenIDENTIFIER, regexp.MustCompile(`^[A-Za-z0-9_.\-]+`)},
	}

	whitespacePattern = regexp.MustCompile(`^\s+`)

	// keywords are recognized only when they make up a whole identifier,
	// so values such as in-house or and.net stay literals.
	keywords = map[string]TokenType{
		"and": TokenAND,
		"or":  TokenOR,
		"not": TokenNOT,
		"in":  TokenIN,
	}
)

// Tokenize converts a condition string into tokens terminated by an EOF token.
// Keywords are case-insensitive. Quoted strings are returned without their quotes.
func Tokenize(expression string) ([]Token, error) {
	var tokens []Token
	position := 0

	for position < len(expression) {
		if match := whitespacePattern.FindString(expression[position:]); match != "" {
			position += len(match)
			continue
		}

		matched := false
		for _, pattern := range tokenPatterns {
			match := pattern.Pattern.FindString(expression[position:])
			if match == "" {
				continue
			}
			tokenType, value := pattern.Type, match
			switch tokenType {
			case TokenSTRING:
				value = match[1 : len(match)-1]
			case TokenIDENTIFIER:
				if keyword, ok := keywords[strings.ToLower(match)]; ok {
					tokenType = keyword
				}
			}
			tokens = append(tokens, Token{Type: tokenType, Value: value, Position: position})
			position += len(match)
			matched = true
			break
		}

		if !matched {
			start := position - 20
			if start < 0 {
				start = 0
			}
			end := position + 20
			if end > len(expression) {
				end = len(expression)
			}
			return nil, &TokenizationError{
				Position:    position,
				InvalidChar: rune(expression[position]),
				Context:     expression[start:end],
			}
		}
	}

	tokens = append(tokens, Token{Type: TokenEOF, Value: "", Position: position})
	return tokens, nil
}
