// Package errors defines the coded error type shared by services and the
// HTTP layer. Errors state the problem and the violated rule; they never
// carry a recommended next action.
package errors

import (
	"errors"
	"fmt"
)

// Error codes form a closed set; the HTTP layer maps them to status codes.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidIncidentID     = "INVALID_INCIDENT_ID"
	CodeInvalidAuthority      = "INVALID_AUTHORITY"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeInsufficientAuthority = "INSUFFICIENT_AUTHORITY"
	CodeMissingMetadata       = "MISSING_METADATA"
	CodeMissingJustification  = "MISSING_JUSTIFICATION"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeApprovalRequired      = "APPROVAL_REQUIRED"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeIdempotencyConflict   = "IDEMPOTENCY_CONFLICT"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeKillSwitchActive      = "KILL_SWITCH_ACTIVE"
	CodeIntegrityFault        = "INTEGRITY_FAULT"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error is a coded error with optional structured details.
type Error struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes two coded errors match when their codes match, so callers can
// compare against sentinel instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithDetail returns a copy carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// CodeOf extracts the code from an error chain; non-coded errors report
// INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError extracts the coded error from a chain, or wraps a plain error as
// INTERNAL_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "internal error")
}

// Is re-exports stdlib errors.Is for callers that alias this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports stdlib errors.As.
func As(err error, target any) bool { return errors.As(err, target) }
