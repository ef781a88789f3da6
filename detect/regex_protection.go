package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"threatgate/metrics"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// DefaultRegexTimeout bounds a single regex mitigation match.
const DefaultRegexTimeout = 100 * time.Millisecond

// ErrRegexTimeout is returned when a pattern exceeds its match timeout.
var ErrRegexTimeout = errors.New("regex evaluation timeout")

// timedRegex is a regexp2 pattern with a match timeout. regexp2 enforces the
// timeout inside its backtracking engine.
type timedRegex struct {
	pattern string
	re      *regexp2.Regexp
	logger  *zap.SugaredLogger
}

func compileTimedRegex(pattern string, timeout time.Duration, logger *zap.SugaredLogger) (*timedRegex, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxRegexLength {
		return nil, fmt.Errorf("regex pattern length %d exceeds maximum %d", len(pattern), MaxRegexLength)
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	if issues := regexIssues(pattern); len(issues) > 0 && logger != nil {
		logger.Warnw("Regex pattern may backtrack heavily",
			"pattern_hash", hashPattern(pattern),
			"issues", strings.Join(issues, "; "),
			"timeout", timeout)
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = timeout
	return &timedRegex{pattern: pattern, re: re, logger: logger}, nil
}

// MatchString reports whether input matches, or ErrRegexTimeout.
func (r *timedRegex) MatchString(input string) (bool, error) {
	match, err := r.re.MatchString(input)
	if err == nil {
		return match, nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		metrics.RegexTimeouts.Inc()
		if r.logger != nil {
			r.logger.Warnf("Regex timeout: pattern may be vulnerable to ReDoS (pattern hash: %s, timeout: %v, input length: %d)",
				hashPattern(r.pattern), r.re.MatchTimeout, len(input))
		}
		return false, ErrRegexTimeout
	}
	return false, fmt.Errorf("regex matching error: %w", err)
}

// hashPattern creates a short hash of a pattern for log correlation.
func hashPattern(pattern string) string {
	hash := sha256.Sum256([]byte(pattern))
	return hex.EncodeToString(hash[:])[:8]
}
