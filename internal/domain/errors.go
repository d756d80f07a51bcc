package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a pipeline stage failed a record.
type ErrorKind string

const (
	// ErrKindValidation covers bad type or size, rejected before any
	// external call.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindSecurity covers an infected verdict or an unreachable
	// scanner under the fail-closed policy.
	ErrKindSecurity ErrorKind = "security"
	// ErrKindTransientService covers retryable external failures,
	// surfaced only after retry exhaustion.
	ErrKindTransientService ErrorKind = "transient_service"
	// ErrKindPermanentService covers unsupported language and
	// unparsable content.
	ErrKindPermanentService ErrorKind = "permanent_service"
	// ErrKindInternal covers unexpected defects caught at the run
	// boundary.
	ErrKindInternal ErrorKind = "internal"
)

// StageError is the normalized failure of one pipeline stage. Once
// unrecoverable it becomes the record's error detail; it never escapes a
// run to crash the scheduler.
type StageError struct {
	Kind  ErrorKind
	Stage Status
	Msg   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *StageError) Unwrap() error { return e.Err }

// Detail is the human-readable cause stored on the record.
func (e *StageError) Detail() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Retryable reports whether the stage may retry the operation.
func (e *StageError) Retryable() bool {
	return e.Kind == ErrKindTransientService
}

func NewValidationError(msg string) *StageError {
	return &StageError{Kind: ErrKindValidation, Stage: StatusPending, Msg: msg}
}

func NewSecurityError(msg string, err error) *StageError {
	return &StageError{Kind: ErrKindSecurity, Stage: StatusScanning, Msg: msg, Err: err}
}

func NewTransientServiceError(stage Status, msg string, err error) *StageError {
	return &StageError{Kind: ErrKindTransientService, Stage: stage, Msg: msg, Err: err}
}

func NewPermanentServiceError(stage Status, msg string, err error) *StageError {
	return &StageError{Kind: ErrKindPermanentService, Stage: stage, Msg: msg, Err: err}
}

func NewInternalError(stage Status, err error) *StageError {
	return &StageError{Kind: ErrKindInternal, Stage: stage, Msg: "internal failure", Err: err}
}

// AsStageError unwraps err into a StageError, or wraps it as an internal
// fault at the given stage.
func AsStageError(err error, stage Status) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError(stage, err)
}

// ErrRecordNotFound is returned by repositories and registries when no
// record exists for the requested ID.
var ErrRecordNotFound = errors.New("record not found")
