package detect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Limits applied to regex mitigation patterns before compilation.
const (
	MaxRegexLength       = 1000
	MaxRepetitionBound   = 1000
	maxQuantifiedNesting = 1
)

var repetitionRange = regexp.MustCompile(`\{(\d+)(?:,(\d*))?\}`)

// regexIssues lists the backtracking hazards found in pattern. An empty
// result does not prove the pattern is fast; the match timeout still applies.
func regexIssues(pattern string) []string {
	var issues []string

	if depth := quantifiedGroupNesting(pattern); depth > maxQuantifiedNesting {
		issues = append(issues, fmt.Sprintf("nested quantifiers (depth %d)", depth))
	}

	for _, m := range repetitionRange.FindAllStringSubmatch(pattern, -1) {
		for _, bound := range m[1:] {
			if n, err := strconv.Atoi(bound); err == nil && n > MaxRepetitionBound {
				issues = append(issues, fmt.Sprintf("repetition bound %d exceeds %d", n, MaxRepetitionBound))
			}
		}
	}

	if alternations := strings.Count(pattern, "|"); alternations > 50 {
		issues = append(issues, fmt.Sprintf("%d alternations", alternations))
	}
	return issues
}

// quantifiedGroupNesting returns how many quantified groups are nested in
// one another at the deepest point: (a+)+ is 2, (ab)+ is 1.
func quantifiedGroupNesting(pattern string) int {
	type group struct {
		innerQuantified int
	}
	var (
		stack    []group
		maxDepth int
		escaped  bool
		inClass  bool
	)

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case escaped:
			escaped = false
			if i+1 < len(pattern) && isQuantifier(pattern[i+1]) && len(stack) > 0 && stack[len(stack)-1].innerQuantified == 0 {
				stack[len(stack)-1].innerQuantified = 1
			}
			continue
		case c == '\\':
			escaped = true
			continue
		case inClass:
			if c == ']' {
				inClass = false
				if i+1 < len(pattern) && isQuantifier(pattern[i+1]) && len(stack) > 0 && stack[len(stack)-1].innerQuantified == 0 {
					stack[len(stack)-1].innerQuantified = 1
				}
			}
			continue
		}

		switch c {
		case '[':
			inClass = true
		case '(':
			stack = append(stack, group{})
		case ')':
			if len(stack) == 0 {
				continue
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			depth := closed.innerQuantified
			if i+1 < len(pattern) && isQuantifier(pattern[i+1]) {
				depth++
			}
			if depth > maxDepth {
				maxDepth = depth
			}
			if len(stack) > 0 && depth > stack[len(stack)-1].innerQuantified {
				stack[len(stack)-1].innerQuantified = depth
			}
		default:
			if isQuantifier(c) && i > 0 && pattern[i-1] != ')' && pattern[i-1] != ']' && len(stack) > 0 && stack[len(stack)-1].innerQuantified == 0 {
				stack[len(stack)-1].innerQuantified = 1
			}
		}
	}
	return maxDepth
}

func isQuantifier(c byte) bool {
	return c == '+' || c == '*' || c == '{'
}
