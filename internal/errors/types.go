package errors

import "errors"

var (
	ErrConfigInvalid     = errors.New("configuration invalid")
	ErrDatasetInvalid    = errors.New("dataset invalid")
	ErrSolverUnavailable = errors.New("solver binary unavailable")
	ErrStageFailed       = errors.New("solver stage failed")
	ErrMalformedOutput   = errors.New("malformed solver output")
	ErrFileSystemFailed  = errors.New("filesystem operation failed")
	ErrNotFitted         = errors.New("classifier not fitted")
	ErrRuntimeFailed     = errors.New("runtime operation failed")
)

// SolverError carries a user-facing explanation alongside the original error.
type SolverError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *SolverError) Error() string {
	if e.OriginalErr == nil {
		return e.Type.Error()
	}
	return e.OriginalErr.Error()
}

func (e *SolverError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is the kind of this error, so callers can write
// errors.Is(err, ErrStageFailed) without unwrapping.
func (e *SolverError) Is(target error) bool {
	return e.Type == target
}

func NewSolverError(errorType error, context, cause, suggestion string, originalErr error) *SolverError {
	return &SolverError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewConfigError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewDatasetError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrDatasetInvalid, context, cause, suggestion, originalErr)
}

func NewUnavailableError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrSolverUnavailable, context, cause, suggestion, originalErr)
}

func NewStageError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrStageFailed, context, cause, suggestion, originalErr)
}

func NewOutputError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrMalformedOutput, context, cause, suggestion, originalErr)
}

func NewFileSystemError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrFileSystemFailed, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *SolverError {
	return NewSolverError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}
