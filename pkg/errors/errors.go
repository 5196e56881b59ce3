package errors

import (
	"fmt"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeSignaling      ErrorCode = "SIGNALING_ERROR"
	ErrCodeNegotiation    ErrorCode = "NEGOTIATION_ERROR"
	ErrCodeDevice         ErrorCode = "DEVICE_ERROR"
	ErrCodeTransportState ErrorCode = "TRANSPORT_STATE_ERROR"
	ErrCodeEncoder        ErrorCode = "ENCODER_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
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
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message)
}

// NewSignalingError covers relay connect/open and room-join failures.
// These are terminal for the session and never retried automatically.
func NewSignalingError(message string) *AppError {
	return NewAppError(ErrCodeSignaling, message)
}

// NewNegotiationError covers descriptor set/create and candidate
// application failures. Logged; the call continues unless progress is
// blocked entirely.
func NewNegotiationError(message string) *AppError {
	return NewAppError(ErrCodeNegotiation, message)
}

// NewDeviceError means every capture fallback tier was exhausted.
func NewDeviceError(message string) *AppError {
	return NewAppError(ErrCodeDevice, message)
}

// NewTransportStateError reports the connection reaching a terminal
// transport state.
func NewTransportStateError(message string) *AppError {
	return NewAppError(ErrCodeTransportState, message)
}

func NewEncoderError(message string) *AppError {
	return NewAppError(ErrCodeEncoder, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}

// CodeOf returns the error code of err, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
