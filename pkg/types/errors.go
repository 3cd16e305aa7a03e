package types

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Producer-facing errors (surfaced synchronously)
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuthentication    ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Transport errors (retried by the queue client)
	ErrCodeBrokerUnavailable ErrorCode = "BROKER_UNAVAILABLE"

	// Consumer-side errors (visible via the DLQ only)
	ErrCodeProcessing       ErrorCode = "PROCESSING_ERROR"
	ErrCodePermanentFailure ErrorCode = "PERMANENT_FAILURE"

	// Lookup errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// CourierError is the structured error carried across the subsystem.
type CourierError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

// NewCourierError creates a new CourierError
func NewCourierError(code ErrorCode, message string) *CourierError {
	return &CourierError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithDetail adds a detail to the error
func (e *CourierError) WithDetail(key string, value interface{}) *CourierError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying cause
func (e *CourierError) WithCause(cause error) *CourierError {
	e.Cause = cause
	return e
}

// Error implements the error interface
func (e *CourierError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CourierError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code
func (e *CourierError) Is(target error) bool {
	if ce, ok := target.(*CourierError); ok {
		return e.Code == ce.Code
	}
	return false
}

// IsRetryable returns true for transient errors the caller may retry.
// Message-level processing errors are retried by the retry coordinator,
// broker faults by the queue client's own short backoff.
func (e *CourierError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeBrokerUnavailable, ErrCodeProcessing:
		return true
	default:
		return false
	}
}

// IsPermanent returns true for errors that must never be retried.
func (e *CourierError) IsPermanent() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeAuthentication, ErrCodePermanentFailure:
		return true
	default:
		return false
	}
}

// RetryAfter returns the admission-control retry hint, if present.
func (e *CourierError) RetryAfter() (time.Duration, bool) {
	v, ok := e.Details["retry_after_seconds"]
	if !ok {
		return 0, false
	}
	secs, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// APIError is the wire projection returned to API-level callers.
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	RetryAfter *float64  `json:"retry_after,omitempty"`
}

// ToAPIError projects the error into the caller-facing shape.
func (e *CourierError) ToAPIError() APIError {
	api := APIError{Code: e.Code, Message: e.Message}
	if d, ok := e.RetryAfter(); ok {
		secs := d.Seconds()
		api.RetryAfter = &secs
	}
	return api
}

// Common error constructors

// ErrValidation creates a validation error (never retried)
func ErrValidation(message string) *CourierError {
	return NewCourierError(ErrCodeValidation, message)
}

// ErrPayloadTooLarge creates a validation error for oversized payloads
func ErrPayloadTooLarge(size, maxSize int) *CourierError {
	return NewCourierError(ErrCodeValidation, "payload size exceeds limit").
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

// ErrAuthentication creates an authentication error (never retried)
func ErrAuthentication(message string) *CourierError {
	return NewCourierError(ErrCodeAuthentication, message)
}

// ErrRateLimited creates an admission rejection with a retry hint
func ErrRateLimited(sender string, retryAfter time.Duration) *CourierError {
	return NewCourierError(ErrCodeRateLimitExceeded, "sender rate limit exceeded").
		WithDetail("sender", sender).
		WithDetail("retry_after_seconds", retryAfter.Seconds())
}

// ErrBrokerUnavailable creates a transient transport error
func ErrBrokerUnavailable(operation string, cause error) *CourierError {
	return NewCourierError(ErrCodeBrokerUnavailable, fmt.Sprintf("broker operation failed: %s", operation)).
		WithCause(cause)
}

// ErrProcessing creates a handler-level failure (retried up to max_retries)
func ErrProcessing(message string, cause error) *CourierError {
	return NewCourierError(ErrCodeProcessing, message).WithCause(cause)
}

// ErrPermanent creates a failure that skips remaining retries
func ErrPermanent(message string, cause error) *CourierError {
	return NewCourierError(ErrCodePermanentFailure, message).WithCause(cause)
}

// ErrNotFound creates a lookup miss for the given resource
func ErrNotFound(resource string, id string) *CourierError {
	return NewCourierError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("id", id)
}

// AsCourierError extracts a CourierError from err, wrapping unknown errors
// as processing failures so the retry coordinator can classify them.
func AsCourierError(err error) *CourierError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CourierError); ok {
		return ce
	}
	return ErrProcessing(err.Error(), err)
}
