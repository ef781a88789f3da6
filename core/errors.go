package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoThreatModel is returned when a run is started without any threat model input.
	ErrNoThreatModel = errors.New("at least one threat model is required")

	// ErrDuplicateThreatID is wrapped by the EvaluationError raised when two
	// (rule, element) pairs produce the same threat id.
	ErrDuplicateThreatID = errors.New("duplicate threat id")
)

// ConfigurationError reports invalid run configuration: a missing required
// input, an unknown parameter, or a rule that references an attribute or
// operator the engine does not know. It is raised before any evaluation.
type ConfigurationError struct {
	// Field names the parameter, setting or rule at fault
	Field string
	// Reason describes what is wrong with it
	Reason string
	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is matches any ConfigurationError when the target Field is empty,
// otherwise only errors for the same field.
func (e *ConfigurationError) Is(target error) bool {
	t, ok := target.(*ConfigurationError)
	if !ok {
		return false
	}
	return t.Field == "" || e.Field == t.Field
}

// Kinds of sources a ModelLoadError can come from.
const (
	SourceThreatsLibrary = "threats library"
	SourceThreatModel    = "threat model"
	SourceMitigations    = "mitigations"
)

// ModelLoadError reports a rules library, threat model or mitigations
// source that could not be fetched or is malformed.
type ModelLoadError struct {
	// Source is the location that was being loaded
	Source string
	// Kind is one of the Source* constants
	Kind string
	// Err is the underlying cause
	Err error
}

// Error implements the error interface for ModelLoadError.
func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load %s from %s: %v", e.Kind, e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Is matches another ModelLoadError of the same kind, or any kind when the target Kind is empty.
func (e *ModelLoadError) Is(target error) bool {
	t, ok := target.(*ModelLoadError)
	if !ok {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// EvaluationError reports a rule condition that could not be evaluated
// against an element. It is never downgraded to a false result.
type EvaluationError struct {
	RuleID    string
	ElementID string
	Err       error
}

// Error implements the error interface for EvaluationError.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate rule %s against element %s: %v", e.RuleID, e.ElementID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is matches another EvaluationError for the same rule, or any rule when the target RuleID is empty.
func (e *EvaluationError) Is(target error) bool {
	t, ok := target.(*EvaluationError)
	if !ok {
		return false
	}
	return t.RuleID == "" || e.RuleID == t.RuleID
}

// QualityGateFailed is the expected outcome of a run whose threats breach the
// configured risk threshold without being mitigated.
type QualityGateFailed struct {
	ModelName string
	Threshold ThreatRisk
	// ThreatIDs lists the non-compliant threats in collection order
	ThreatIDs []string
}

// Error implements the error interface for QualityGateFailed.
func (e *QualityGateFailed) Error() string {
	return fmt.Sprintf("quality gate failed for %q (threshold %s): non-compliant threats found [%s]",
		e.ModelName, e.Threshold, strings.Join(e.ThreatIDs, ", "))
}

// Unwrap returns nil as this error doesn't wrap another error.
func (e *QualityGateFailed) Unwrap() error {
	return nil
}

// Is matches any QualityGateFailed.
func (e *QualityGateFailed) Is(target error) bool {
	_, ok := target.(*QualityGateFailed)
	return ok
}

// ReportWriteError reports a failure to persist a threat report.
type ReportWriteError struct {
	// Path is the report file that could not be written
	Path string
	Err  error
}

// Error implements the error interface for ReportWriteError.
func (e *ReportWriteError) Error() string {
	return fmt.Sprintf("failed to write report %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ReportWriteError) Unwrap() error {
	return e.Err
}

// Is matches any ReportWriteError.
func (e *ReportWriteError) Is(target error) bool {
	_, ok := target.(*ReportWriteError)
	return ok
}
