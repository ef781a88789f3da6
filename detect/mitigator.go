package detect

import (
	"fmt"
	"path"
	"strings"
	"time"

	"threatgate/core"
	"threatgate/metrics"

	"go.uber.org/zap"
)

// RegexPatternPrefix marks a mitigation pattern as a regular expression.
const RegexPatternPrefix = "regex:"

// Mitigator reconciles generated threats with declared mitigations. It only
// changes mitigation status and justification, never the set of threats.
type Mitigator interface {
	Apply(collection *core.ThreatsCollection) error
}

// DullMitigator is used when no mitigations are declared. Every threat keeps
// its NotMitigated status.
type DullMitigator struct{}

// Apply implements Mitigator.
func (DullMitigator) Apply(*core.ThreatsCollection) error {
	return nil
}

type patternMatcher func(value string) (bool, error)

type compiledMitigation struct {
	core.Mitigation
	match patternMatcher
}

// StandardMitigator applies the first declared mitigation whose pattern
// matches a threat. The threat id is tried against every mitigation before
// the element id is.
type StandardMitigator struct {
	mitigations  []compiledMitigation
	logger       *zap.SugaredLogger
	regexTimeout time.Duration
}

// MitigatorOption configures a StandardMitigator.
type MitigatorOption func(*StandardMitigator)

// WithRegexTimeout bounds each regex pattern match.
func WithRegexTimeout(timeout time.Duration) MitigatorOption {
	return func(m *StandardMitigator) {
		m.regexTimeout = timeout
	}
}

// WithMitigatorLogger sets the logger.
func WithMitigatorLogger(logger *zap.SugaredLogger) MitigatorOption {
	return func(m *StandardMitigator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMitigator returns a DullMitigator when mitigations is empty and a
// StandardMitigator otherwise.
func NewMitigator(mitigations []core.Mitigation, opts ...MitigatorOption) (Mitigator, error) {
	if len(mitigations) == 0 {
		return DullMitigator{}, nil
	}
	return NewStandardMitigator(mitigations, opts...)
}

// NewStandardMitigator compiles the patterns of mitigations. A pattern is one of:
//   - an exact threat or element id
//   - a glob using *, ? and [...] ("flow-*")
//   - "regex:" followed by a regular expression, matched with a timeout
func NewStandardMitigator(mitigations []core.Mitigation, opts ...MitigatorOption) (*StandardMitigator, error) {
	m := &StandardMitigator{
		logger:       zap.NewNop().Sugar(),
		regexTimeout: DefaultRegexTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	for i, mitigation := range mitigations {
		matcher, err := m.compilePattern(mitigation.Pattern)
		if err != nil {
			return nil, &core.ConfigurationError{
				Field:  fmt.Sprintf("mitigations[%d]", i),
				Reason: fmt.Sprintf("invalid pattern %q", mitigation.Pattern),
				Err:    err,
			}
		}
		m.mitigations = append(m.mitigations, compiledMitigation{Mitigation: mitigation, match: matcher})
	}
	return m, nil
}

func (m *StandardMitigator) compilePattern(pattern string) (patternMatcher, error) {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return nil, fmt.Errorf("pattern cannot be empty")

	case strings.HasPrefix(pattern, RegexPatternPrefix):
		re, err := compileTimedRegex(strings.TrimPrefix(pattern, RegexPatternPrefix), m.regexTimeout, m.logger)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil

	case strings.ContainsAny(pattern, "*?["):
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, err
		}
		return func(value string) (bool, error) {
			return path.Match(pattern, value)
		}, nil

	default:
		return func(value string) (bool, error) {
			return value == pattern, nil
		}, nil
	}
}

// Apply implements Mitigator.
func (m *StandardMitigator) Apply(collection *core.ThreatsCollection) error {
	if collection == nil {
		return nil
	}
	used := make([]bool, len(m.mitigations))

	for i := range collection.Threats {
		threat := &collection.Threats[i]
		idx, err := m.find(threat)
		if err != nil {
			return fmt.Errorf("failed to match mitigations for threat %s: %w", threat.ID, err)
		}
		if idx < 0 {
			continue
		}
		used[idx] = true
		mitigation := m.mitigations[idx]
		threat.MitigationStatus = mitigation.Status
		threat.Justification = mitigation.Justification
		metrics.ThreatsMitigated.WithLabelValues(mitigation.Status.String()).Inc()
	}

	for i, ok := range used {
		if !ok {
			m.logger.Warnw("Mitigation matched no threat", "pattern", m.mitigations[i].Pattern)
		}
	}
	return nil
}

// find returns the index of the mitigation for threat, or -1.
func (m *StandardMitigator) find(threat *core.Threat) (int, error) {
	for _, candidate := range []string{threat.ID, threat.ElementID} {
		for i, mitigation := range m.mitigations {
			ok, err := mitigation.match(candidate)
			if err != nil {
				return -1, err
			}
			if ok {
				return i, nil
			}
		}
	}
	return -1, nil
}
