package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a deckhand error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"     // 401
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrConflict        ErrorCode = "CONFLICT"         // 409
	ErrUpstream        ErrorCode = "UPSTREAM"         // status reported by the API
	ErrInvalidResponse ErrorCode = "INVALID_RESPONSE" // 502
	ErrTransport       ErrorCode = "TRANSPORT"        // 502
	ErrInternal        ErrorCode = "INTERNAL"         // 500
)

// DeckError represents a structured error with code, status, and details.
type DeckError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *DeckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *DeckError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DeckError {
	return &DeckError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error. The session has already been cleared
// by the time callers see it.
func NewUnauthorized(msg string) *DeckError {
	if msg == "" {
		msg = "authentication required"
	}
	return &DeckError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a project that is not known.
func NewNotFound(identifier string) *DeckError {
	return &DeckError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("project not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewSessionNotFound creates a 404 error for a session name with no stored row.
func NewSessionNotFound(name string) *DeckError {
	return &DeckError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("session not found: %s", name),
		Details: map[string]any{"name": name},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *DeckError {
	return &DeckError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUpstream wraps a non-2xx, non-401 response from the API.
// The status is passed through unchanged.
func NewUpstream(status int, path, msg string) *DeckError {
	if msg == "" {
		msg = fmt.Sprintf("api returned status %d", status)
	}
	return &DeckError{
		Code:    ErrUpstream,
		Status:  status,
		Message: msg,
		Details: map[string]any{"path": path, "status": status},
	}
}

// NewInvalidResponse creates a 502 error for a payload that failed to parse
// or validate.
func NewInvalidResponse(path string, err error) *DeckError {
	return &DeckError{
		Code:    ErrInvalidResponse,
		Status:  502,
		Message: fmt.Sprintf("invalid response from %s: %v", path, err),
		Details: map[string]any{"path": path},
		cause:   err,
	}
}

// NewTransport creates a 502 error when the API could not be reached.
func NewTransport(err error) *DeckError {
	msg := "transport error"
	if err != nil {
		msg = err.Error()
	}
	return &DeckError{
		Code:    ErrTransport,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *DeckError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &DeckError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a DeckError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DeckError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// As extracts a DeckError from err, wrapping anything else as INTERNAL.
func As(err error) *DeckError {
	var dErr *DeckError
	if stderrors.As(err, &dErr) {
		return dErr
	}
	return NewInternal(err)
}
