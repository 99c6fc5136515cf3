package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies daemon errors on the wire. Wire payloads are
// field-named records; new fields may be added without breaking clients.
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "validation_error"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodePermissionDenied ErrorCode = "permission_denied"
	ErrCodeTimeout          ErrorCode = "timeout"
	ErrCodeCancelled        ErrorCode = "cancelled"
	ErrCodeKernelCrashed    ErrorCode = "kernel_crashed"
	ErrCodeExecutionFailed  ErrorCode = "execution_failed"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeInternal         ErrorCode = "internal_error"
)

// APIError is the uniform error record returned by every endpoint.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches on error code so callers can test with errors.Is against a
// sentinel carrying only the code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps the error code to a wire-level status.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeCancelled, ErrCodeKernelCrashed, ErrCodeExecutionFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func NewValidationError(format string, args ...any) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *APIError {
	return &APIError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewPermissionDeniedError(message string, err error) *APIError {
	return &APIError{Code: ErrCodePermissionDenied, Message: message, Err: err}
}

func NewInternalError(message string, err error) *APIError {
	return &APIError{Code: ErrCodeInternal, Message: message, Err: err}
}

// AsAPIError extracts an APIError from err, wrapping unknown errors as
// internal so handlers always have a code to map.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Code: ErrCodeInternal, Message: err.Error(), Err: err}
}

func IsNotFound(err error) bool {
	return errors.Is(err, &APIError{Code: ErrCodeNotFound})
}
