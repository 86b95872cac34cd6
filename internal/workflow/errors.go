package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration errors. Step-level kinds are recorded in
// StepOutcome.Error and never abort a workflow; only KindOrchestratorFault
// terminates a run.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindNotFound          Kind = "not_found"
	KindNotReady          Kind = "not_ready"
	KindConflict          Kind = "conflict"
	KindStepCrashed       Kind = "step_crashed"
	KindStepTimeout       Kind = "step_timeout"
	KindOrchestratorFault Kind = "orchestrator_fault"
)

// Error is a classified orchestration error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a classified error with a formatted message
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr classifies an underlying error
func WrapErr(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or the empty string if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
