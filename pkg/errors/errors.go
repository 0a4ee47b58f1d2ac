package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code. Clones and wraps of a
// predefined error therefore still match it with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// WrapAs wraps err using the code, status and retry semantics of kind.
func WrapAs(err error, kind *Error, message string) *Error {
	if message == "" {
		message = kind.Message
	}
	return &Error{Code: kind.Code, Status: kind.Status, Retryable: kind.Retryable, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrDuplicateRecord    = New("DUPLICATE_RECORD", http.StatusConflict, "record already exists")
	ErrDuplicateAppeal    = New("DUPLICATE_APPEAL", http.StatusConflict, "an open appeal already exists")
	ErrInvalidDelta       = New("INVALID_DELTA", http.StatusUnprocessableEntity, "points delta would breach the balance floor")
	ErrAlreadyResolved    = New("ALREADY_RESOLVED", http.StatusConflict, "infringement already resolved")
	ErrInvalidTransition  = New("INVALID_TRANSITION", http.StatusConflict, "status transition not allowed")
	ErrTooManyRequests    = New("RATE_LIMITED", http.StatusTooManyRequests, "rate limit exceeded")
	ErrConcurrency        = &Error{Code: "CONCURRENCY_CONFLICT", Status: http.StatusConflict, Message: "record changed concurrently, retry", Retryable: true}
	ErrStorageUnavailable = &Error{Code: "STORAGE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Message: "storage unavailable, retry later", Retryable: true}
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsRetryable reports whether the caller may retry the failed operation with backoff.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
