package errors

import "fmt"

// ErrorCode represents a brapi-mcp error code.
type ErrorCode string

const (
	ErrUnknownService    ErrorCode = "UNKNOWN_SERVICE"    // 404 — capability error
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404 — cache/session lookup
	ErrProtocol          ErrorCode = "PROTOCOL"           // 502 — malformed remote response
	ErrTransport         ErrorCode = "TRANSPORT"          // 502 — network/HTTP failure
	ErrUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT" // 400
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUnknownService creates a capability error for an unrecognized service.
// The list of valid alternatives is carried in Details so callers can
// surface it instead of silently substituting something else.
func NewUnknownService(service string, available []string) *Error {
	return &Error{
		Code:    ErrUnknownService,
		Status:  404,
		Message: fmt.Sprintf("service %q is not supported by this server", service),
		Details: map[string]any{"service": service, "available_services": available},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing cached result or session.
func NewNotFound(kind, identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewProtocol creates a 502 error for a remote response that violates the
// expected protocol (e.g. a search submission with no results handle).
func NewProtocol(msg string, details map[string]any) *Error {
	return &Error{
		Code:    ErrProtocol,
		Status:  502,
		Message: msg,
		Details: details,
	}
}

// NewTransport creates a 502 error wrapping a network or HTTP failure.
func NewTransport(err error) *Error {
	msg := "transport failure"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrTransport,
		Status:  502,
		Message: msg,
	}
}

// NewUnsupportedFormat creates a 400 error for an unknown result format.
func NewUnsupportedFormat(format string, supported []string) *Error {
	return &Error{
		Code:    ErrUnsupportedFormat,
		Status:  400,
		Message: fmt.Sprintf("unsupported result format: %q", format),
		Details: map[string]any{"format": format, "supported_formats": supported},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}
