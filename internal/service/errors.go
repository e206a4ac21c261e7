package service

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidState    = "INVALID_STATE"
	CodeConflict        = "CONFLICT"
	CodeUnavailable     = "UNAVAILABLE"
)

type BusinessError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

type Detail struct {
	Key     string
	Payload any
}

func (b *BusinessError) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", b.Code, b.Message, b.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", b.Code, b.Message)
}

func (b *BusinessError) Unwrap() error {
	return b.Err
}

// Retryable reports whether a caller may retry with backoff.
func (b *BusinessError) Retryable() bool {
	return b.Code == CodeUnavailable
}

func ToDetail(key string, payload any) Detail {
	return Detail{
		Key:     key,
		Payload: payload,
	}
}

func NewBusinessError(code string, message string, details ...Detail) *BusinessError {
	busErr := &BusinessError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}

	for _, detail := range details {
		busErr.Details[detail.Key] = detail.Payload
	}

	return busErr
}

// AsBusinessError unwraps err into a *BusinessError when it carries one.
func AsBusinessError(err error) (*BusinessError, bool) {
	var busErr *BusinessError
	if errors.As(err, &busErr) {
		return busErr, true
	}
	return nil, false
}

// ErrorCode returns the business code of err, or "" for foreign errors.
func ErrorCode(err error) string {
	if busErr, ok := AsBusinessError(err); ok {
		return busErr.Code
	}
	return ""
}

func NewInvalidArgument(field, reason string) *BusinessError {
	return NewBusinessError(CodeInvalidArgument,
		fmt.Sprintf("invalid value for field '%s': %s", field, reason),
		ToDetail("field", field),
		ToDetail("reason", reason),
	)
}

func NewForbidden(reason string) *BusinessError {
	return NewBusinessError(CodeForbidden, reason)
}

func NewNotFound(resource, id string) *BusinessError {
	return NewBusinessError(CodeNotFound,
		fmt.Sprintf("%s %s not found", resource, id),
		ToDetail("resource", resource),
		ToDetail("id", id),
	)
}

func NewInvalidState(reason string, details ...Detail) *BusinessError {
	return NewBusinessError(CodeInvalidState, reason, details...)
}

func NewConflict(reason string, details ...Detail) *BusinessError {
	return NewBusinessError(CodeConflict, reason, details...)
}

// NewUnavailable hides err from the message; it stays reachable through Unwrap for logs.
func NewUnavailable(operation string, err error) *BusinessError {
	busErr := NewBusinessError(CodeUnavailable,
		"service temporarily unavailable, retry later",
		ToDetail("operation", operation),
	)
	busErr.Err = err
	return busErr
}
