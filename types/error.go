package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the bridge.
type ErrorCode string

// Remote service error codes
const (
	ErrRemote           ErrorCode = "REMOTE_ERROR"
	ErrRemoteValidation ErrorCode = "REMOTE_VALIDATION"
)

// Local error codes
const (
	ErrLocalSetup     ErrorCode = "LOCAL_SETUP"
	ErrConversion     ErrorCode = "CONVERSION"
	ErrTaskNotFound   ErrorCode = "TASK_NOT_FOUND"
	ErrTaskActive     ErrorCode = "TASK_ACTIVE"
	ErrManagerClosed  ErrorCode = "MANAGER_CLOSED"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// HTTP API access codes
const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"
)

// FieldError is one entry of a remote validation failure.
// The JSON shape matches the `detail` items of an HTTP 422 response.
type FieldError struct {
	Location []any  `json:"loc"`
	Message  string `json:"msg"`
	Kind     string `json:"type"`
}

// Field joins the location path with dots, e.g. "body.seed".
func (f FieldError) Field() string {
	parts := make([]string, 0, len(f.Location))
	for _, p := range f.Location {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ".")
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode    `json:"code"`
	Message    string       `json:"message"`
	HTTPStatus int          `json:"http_status,omitempty"`
	Retryable  bool         `json:"retryable"`
	Details    []FieldError `json:"details,omitempty"`
	Cause      error        `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetails attaches field-level validation details.
func (e *Error) WithDetails(details []FieldError) *Error {
	e.Details = details
	return e
}

// NewValidationError builds a REMOTE_VALIDATION error from 422 details.
func NewValidationError(details []FieldError) *Error {
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d.Message)
	}
	return NewError(ErrRemoteValidation, fmt.Sprintf("validation errors: [%s]", strings.Join(msgs, "; "))).
		WithHTTPStatus(422).
		WithDetails(details)
}

// AsError extracts a *Error anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
