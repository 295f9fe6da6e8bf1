package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failure for retry and presentation decisions.
type ErrorType string

const (
	// Terminal errors: surfaced immediately, never retried.
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeForbidden  ErrorType = "FORBIDDEN"

	// Transient errors: eligible for backoff and retry.
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeInternal    ErrorType = "INTERNAL"

	// Connectivity errors: the client cannot reach the backend at all.
	// Cached data stays valid; writes may divert to the replay queue.
	ErrorTypeConnectivity ErrorType = "CONNECTIVITY"

	// Corruption errors: a persisted value could not be decoded. Never
	// surfaced to callers; always treated as a cache miss.
	ErrorTypeCorruption ErrorType = "CORRUPTION"
)

// AppError carries the error class alongside the underlying cause.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Type:       ErrorTypeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(message string) *AppError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewConnectivityError creates a connectivity error. It marks failures of
// the link itself (socket dial, push channel disconnect, offline detection)
// as distinct from failures of the data.
func NewConnectivityError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeConnectivity,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
	}
}

// NewCorruptionError creates a corruption error for undecodable cached data.
func NewCorruptionError(key string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCorruption,
		Message: fmt.Sprintf("cache entry %q is unreadable", key),
		Cause:   err,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsRetryable reports whether the read path may retry after this error.
// Unclassified errors are treated as terminal so a malformed request can
// never loop through the backoff schedule.
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case ErrorTypeRateLimit, ErrorTypeUnavailable, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	return IsType(err, ErrorTypeForbidden)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsRateLimit checks if an error is a rate limit error
func IsRateLimit(err error) bool {
	return IsType(err, ErrorTypeRateLimit)
}

// IsConnectivity checks if an error is a connectivity error
func IsConnectivity(err error) bool {
	return IsType(err, ErrorTypeConnectivity)
}

// FromHTTPStatus classifies an HTTP response status into an AppError.
func FromHTTPStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusNotFound:
		return &AppError{Type: ErrorTypeNotFound, Message: message, HTTPStatus: status}
	case status == http.StatusConflict:
		return &AppError{Type: ErrorTypeConflict, Message: message, HTTPStatus: status}
	case status == http.StatusTooManyRequests:
		return &AppError{Type: ErrorTypeRateLimit, Message: message, HTTPStatus: status}
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return &AppError{Type: ErrorTypeForbidden, Message: message, HTTPStatus: status}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &AppError{Type: ErrorTypeValidation, Message: message, HTTPStatus: status}
	case status == http.StatusServiceUnavailable:
		return &AppError{Type: ErrorTypeUnavailable, Message: message, HTTPStatus: status}
	case status >= 500:
		return &AppError{Type: ErrorTypeInternal, Message: message, HTTPStatus: status}
	default:
		return &AppError{Type: ErrorTypeInternal, Message: message, HTTPStatus: status}
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
