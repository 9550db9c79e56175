// Package errors provides coded error types for the login handshake service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for the application.
const (
	// General errors
	CodeInternal     Code = "INTERNAL"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"
	CodeCanceled     Code = "CANCELED"

	// Handshake errors
	CodeStateMissing  Code = "STATE_MISSING"
	CodeStateMismatch Code = "STATE_MISMATCH"
	CodeStateReused   Code = "STATE_REUSED"
	CodeOAuthError    Code = "OAUTH_ERROR"

	// Identity provider errors
	CodeUpstreamError Code = "UPSTREAM_ERROR"
	CodeCircuitOpen   Code = "CIRCUIT_OPEN"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before a response could be produced.
const StatusClientClosedRequest = 499

// Error is the application's custom error type with code and details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"` // Underlying error, not serialized
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the target error has the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// Wrap returns a copy of the error wrapping err.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Err:     err,
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// InternalWrap creates an internal error wrapping another error.
func InternalWrap(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

// RateLimited creates a rate limited error.
func RateLimited(message string) *Error {
	return New(CodeRateLimited, message)
}

// Unavailable creates an unavailable error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout creates a timeout error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// Canceled creates a canceled error.
func Canceled(message string) *Error {
	return New(CodeCanceled, message)
}

// Handshake error constructors

// StateMissing creates an error for a callback without its state cookie.
func StateMissing(message string) *Error {
	return New(CodeStateMissing, message)
}

// StateMismatch creates an error for a callback whose state does not match the cookie.
func StateMismatch(message string) *Error {
	return New(CodeStateMismatch, message)
}

// StateReused creates an error for a state that was already exchanged.
func StateReused(message string) *Error {
	return New(CodeStateReused, message)
}

// OAuthError creates an OAuth error.
func OAuthError(message string) *Error {
	return New(CodeOAuthError, message)
}

// UpstreamError creates an upstream error.
func UpstreamError(message string) *Error {
	return New(CodeUpstreamError, message)
}

// CircuitOpen creates a circuit open error.
func CircuitOpen(message string) *Error {
	return New(CodeCircuitOpen, message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeInvalidInput, CodeOAuthError:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeStateMissing, CodeStateMismatch, CodeStateReused:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeUnavailable, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, or CodeInternal if not found.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
