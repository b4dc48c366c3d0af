package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRetrieval         = "RETRIEVAL_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeDispatch          = "DISPATCH_ERROR"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// DocketError is the structured error type for all docket operations.
type DocketError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DocketError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.TaskID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DocketError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error code indicates a transient failure.
// Unknown codes default to retryable; the retry policy bounds attempts.
func (e *DocketError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidTransition,
		ErrCodeParse, ErrCodeExpression, ErrCodeRetryExhausted, ErrCodeNonRetryable:
		return false
	default:
		return true
	}
}

// NewError creates a new DocketError.
func NewError(code, message string) *DocketError {
	return &DocketError{Code: code, Message: message}
}

// NewErrorf creates a new DocketError with a formatted message.
func NewErrorf(code, format string, args ...any) *DocketError {
	return &DocketError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches a task ID to the error.
func (e *DocketError) WithTask(taskID string) *DocketError {
	e.TaskID = taskID
	return e
}

// WithCause attaches an underlying cause.
func (e *DocketError) WithCause(err error) *DocketError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DocketError) WithDetails(details map[string]any) *DocketError {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) a DocketError with the code.
func IsCode(err error, code string) bool {
	var derr *DocketError
	return errors.As(err, &derr) && derr.Code == code
}
