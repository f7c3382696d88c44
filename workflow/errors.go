package workflow

import (
	"errors"
	"fmt"
)

// ErrConflict is matched by every ConflictError through errors.Is.
var ErrConflict = errors.New("submission is being modified by another action")

// AssignmentError means the actor is not responsible for the current step.
type AssignmentError struct {
	Actor   Role
	Current Role
	Reason  string
}

func (e *AssignmentError) Error() string {
	if e.Reason != "" {
		return "assignment: " + e.Reason
	}
	current := "nobody"
	if !e.Current.IsZero() {
		current = string(e.Current)
	}
	return fmt.Sprintf("assignment: role %s cannot act, submission is assigned to %s", e.Actor, current)
}

// InvalidTransitionError reports a malformed routing request.
type InvalidTransitionError struct {
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return "invalid transition: " + e.Reason
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when another action holds the submission lock.
// Callers may retry.
type ConflictError struct {
	SubmissionID uint
	Err          error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict on submission %d: %v", e.SubmissionID, e.Err)
	}
	return fmt.Sprintf("conflict on submission %d", e.SubmissionID)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsRetryable reports whether err is a lock conflict the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
