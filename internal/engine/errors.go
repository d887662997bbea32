package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Severity classifies step errors for logging and retry routing.
type Severity string

const (
	// SeverityTransient marks errors that may succeed on retry.
	SeverityTransient Severity = "transient"
	// SeverityPermanent marks errors that terminate the workflow.
	SeverityPermanent Severity = "permanent"
)

// StepError wraps a failure in one workflow step with its candidate and
// severity. The underlying cause remains reachable via errors.Is/As.
type StepError struct {
	Step        string
	CandidateID int64
	Severity    Severity
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for candidate %d (%s): %v", e.Step, e.CandidateID, e.Severity, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err as a step failure.
func NewStepError(step string, candidateID int64, severity Severity, err error) *StepError {
	return &StepError{Step: step, CandidateID: candidateID, Severity: severity, Err: err}
}

// ValidationError reports generated metadata that can never produce matches.
// It is permanent: the workflow fails without retry and nothing is persisted
// for the rejected version.
type ValidationError struct {
	CandidateID int64
	Fields      []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid generated metadata for candidate %d: %s",
		e.CandidateID, strings.Join(e.Fields, ", "))
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
