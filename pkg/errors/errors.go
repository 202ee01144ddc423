package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code sent to clients.
type ErrorCode string

const (
	ErrCodeRoomUnavailable          ErrorCode = "RoomUnavailable"
	ErrCodeRoomNotFound             ErrorCode = "RoomNotFound"
	ErrCodePeerNotFound             ErrorCode = "PeerNotFound"
	ErrCodeTransportNotFound        ErrorCode = "TransportNotFound"
	ErrCodeProducerNotFound         ErrorCode = "ProducerNotFound"
	ErrCodeConsumerNotFound         ErrorCode = "ConsumerNotFound"
	ErrCodeIncompatibleCapabilities ErrorCode = "IncompatibleCapabilities"
	ErrCodeAuthenticationFailed     ErrorCode = "AuthenticationFailed"
	ErrCodeInvalidRequest           ErrorCode = "InvalidRequest"
	ErrCodeRateLimited              ErrorCode = "RateLimited"
	ErrCodeInternal                 ErrorCode = "InternalError"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidRequestError(message string) *AppError {
	return NewAppError(ErrCodeInvalidRequest, message, http.StatusBadRequest)
}

func NewNotFoundError(code ErrorCode, resource string) *AppError {
	return NewAppError(code, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrCodeAuthenticationFailed, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewRoomUnavailableError() *AppError {
	return NewAppError(ErrCodeRoomUnavailable, "room is temporarily unavailable", http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
