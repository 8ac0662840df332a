package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the orchestrator error taxonomy
var (
	ErrProcessNotFound    = errors.New("process not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrInvalidStepState   = errors.New("invalid step state")
	ErrDependencyNotReady = errors.New("dependencies not ready")
	ErrValidationFailed   = errors.New("validation failed")
	ErrExecutor           = errors.New("executor error")
	ErrTimeout            = errors.New("step timed out")
	ErrRetriesExhausted   = errors.New("retries exhausted")

	ErrInvalidPipeline   = errors.New("invalid pipeline")
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrExecutorNotFound  = errors.New("executor not found")
	ErrInvalidWebhook    = errors.New("invalid webhook")
	ErrProcessNotRunning = fmt.Errorf("%w: process is not running", ErrInvalidStepState)
)

// ErrorKind classifies a StepError
type ErrorKind string

const (
	KindDependencyNotReady ErrorKind = "dependency_not_ready"
	KindValidationFailed   ErrorKind = "validation_failed"
	KindExecutorError      ErrorKind = "executor_error"
	KindTimeout            ErrorKind = "timeout"
	KindRetriesExhausted   ErrorKind = "retries_exhausted"
	KindProcessNotFound    ErrorKind = "process_not_found"
	KindStepNotFound       ErrorKind = "step_not_found"
	KindInvalidStepState   ErrorKind = "invalid_step_state"
)

var kindSentinels = map[ErrorKind]error{
	KindDependencyNotReady: ErrDependencyNotReady,
	KindValidationFailed:   ErrValidationFailed,
	KindExecutorError:      ErrExecutor,
	KindTimeout:            ErrTimeout,
	KindRetriesExhausted:   ErrRetriesExhausted,
	KindProcessNotFound:    ErrProcessNotFound,
	KindStepNotFound:       ErrStepNotFound,
	KindInvalidStepState:   ErrInvalidStepState,
}

// StepError is returned by the step runner. It matches the sentinel of its
// Kind and the wrapped cause with errors.Is.
type StepError struct {
	Kind       ErrorKind
	ProcessID  string
	StepID     string
	Violations []string // ValidationFailed
	Missing    []string // DependencyNotReady
	Attempts   int      // RetriesExhausted
	Err        error
}

// Error implements error
func (e *StepError) Error() string {
	var b strings.Builder
	b.WriteString("step ")
	b.WriteString(e.StepID)
	b.WriteString(": ")

	switch e.Kind {
	case KindDependencyNotReady:
		fmt.Fprintf(&b, "dependencies not ready: %s", strings.Join(e.Missing, ", "))
	case KindValidationFailed:
		fmt.Fprintf(&b, "validation failed: %s", strings.Join(e.Violations, "; "))
	case KindRetriesExhausted:
		fmt.Fprintf(&b, "failed after %d attempt(s)", e.Attempts)
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	default:
		switch sentinel, ok := kindSentinels[e.Kind]; {
		case e.Err != nil:
			b.WriteString(e.Err.Error())
		case ok:
			b.WriteString(sentinel.Error())
		default:
			b.WriteString(string(e.Kind))
		}
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause
func (e *StepError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Message returns the error text without the step prefix, as recorded on
// the process errors list.
func (e *StepError) Message() string {
	return strings.TrimPrefix(e.Error(), "step "+e.StepID+": ")
}

// KindOf returns the kind of the outermost StepError in err, or "" if none
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrProcessNotFound):
		return KindProcessNotFound
	case errors.Is(err, ErrStepNotFound):
		return KindStepNotFound
	case errors.Is(err, ErrInvalidStepState):
		return KindInvalidStepState
	}
	return ""
}
