package gatekit

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes connection-level errors. Check-in results have
// their own classification (OutcomeKind); these codes cover the realtime
// channel and the connect lifecycle.
type ErrorCode int

const (
	// Server-reported errors (from protocol error frames)
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorAccessDenied
	ErrorRoomNotFound
	ErrorBadRequest
	ErrorRateLimited
	ErrorInternalServer

	// Client-side errors
	ErrorAuthMissing
	ErrorConnection
	ErrorNotConnected
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRoomNotFound:
		return "room_not_found"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorAuthMissing:
		return "auth_missing"
	case ErrorConnection:
		return "connection_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "access_denied":
		return ErrorAccessDenied
	case "room_not_found":
		return ErrorRoomNotFound
	case "bad_request":
		return ErrorBadRequest
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// Error is a structured error with a code and optional wrapped cause.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is compares errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a code and message.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

// FromWireError converts a protocol error frame to an Error.
func FromWireError(e *WireError) *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: ParseErrorCode(e.Code), Message: e.Msg}
}

// CodeOf extracts the ErrorCode from err, or ErrorUnknown if err is not
// a gatekit error.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrorUnknown
}

// IsAuthError reports whether err is an authentication/authorization
// failure. These are fatal for the attempt and never retried.
func IsAuthError(err error) bool {
	switch CodeOf(err) {
	case ErrorAuthMissing, ErrorUnauthorized, ErrorAccessDenied:
		return true
	}
	return false
}

// IsConnectionError reports whether err is a transport-level failure.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout:
		return true
	}
	return false
}
