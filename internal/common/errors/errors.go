// Package errors provides custom error types for the relay application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeSessionTerminal    = "SESSION_TERMINAL"
	ErrCodeSpawnError         = "SPAWN_ERROR"
	ErrCodeProcessNotRunning  = "PROCESS_NOT_RUNNING"
	ErrCodeResultNotFound     = "RESULT_NOT_FOUND"
	ErrCodeResultInvalid      = "RESULT_INVALID"
	ErrCodeTransportClosed    = "TRANSPORT_CLOSED"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ServiceUnavailable creates a new service unavailable error.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// SessionNotFound creates an error for an unknown session id.
func SessionNotFound(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionNotFound,
		Message:    fmt.Sprintf("session '%s' not found", sessionID),
		HTTPStatus: http.StatusNotFound,
	}
}

// SessionTerminal creates an error for an operation on a session that has
// already reached a terminal phase.
func SessionTerminal(sessionID string, phase string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionTerminal,
		Message:    fmt.Sprintf("session '%s' is already %s", sessionID, phase),
		HTTPStatus: http.StatusConflict,
	}
}

// SpawnError creates an error for a failed engine process launch.
func SpawnError(command string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSpawnError,
		Message:    fmt.Sprintf("failed to spawn engine process '%s'", command),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ProcessNotRunning creates an error for a write to an exited engine process.
func ProcessNotRunning(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeProcessNotRunning,
		Message:    fmt.Sprintf("engine process for session '%s' is not running", sessionID),
		HTTPStatus: http.StatusConflict,
	}
}

// ResultNotFound creates an error for a missing result artifact.
func ResultNotFound(path string) *AppError {
	return &AppError{
		Code:       ErrCodeResultNotFound,
		Message:    fmt.Sprintf("missing result artifact at '%s'", path),
		HTTPStatus: http.StatusNotFound,
	}
}

// ResultInvalid creates an error for a result artifact that failed validation.
func ResultInvalid(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeResultInvalid,
		Message:    fmt.Sprintf("invalid result artifact: %s", reason),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// TransportClosed creates an error for a send on a closed client connection.
func TransportClosed(clientID string) *AppError {
	return &AppError{
		Code:       ErrCodeTransportClosed,
		Message:    fmt.Sprintf("transport for client '%s' is closed", clientID),
		HTTPStatus: http.StatusGone,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound ||
			appErr.Code == ErrCodeSessionNotFound ||
			appErr.Code == ErrCodeResultNotFound
	}
	return false
}

// IsBadRequest checks if the error is a bad request error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeBadRequest || appErr.Code == ErrCodeValidationError
	}
	return false
}

// IsTerminal checks if the error indicates a session in a terminal phase.
func IsTerminal(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSessionTerminal
	}
	return false
}

// Code returns the application error code for an error, or INTERNAL_ERROR
// if the error is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
