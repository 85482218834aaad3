package core

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Adapter-related errors
	ErrAdapterNotFound = errors.New("adapter not found")
	ErrAdapterDisabled = errors.New("adapter disabled")

	// Circuit breaker and execution errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrOperationTimeout   = errors.New("operation timeout")
	ErrExecutionCancelled = errors.New("execution cancelled")

	// Intent engine errors
	ErrNoMatchingTemplate  = errors.New("no matching template")
	ErrParameterValidation = errors.New("parameter validation failed")
	ErrTemplateNotFound    = errors.New("template not found")

	// Vector store errors
	ErrCollectionNotFound = errors.New("collection not found")

	// Quota and throttling errors
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Auth errors (handled by the external auth collaborator)
	ErrUnauthorized = errors.New("unauthorized")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Backend errors
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrRequestFailed      = errors.New("request failed")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotInitialized = errors.New("not initialized")

	// Operation errors
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// GatewayError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type GatewayError struct {
	Op      string // Operation that failed (e.g., "quota.IncrementAndGet")
	Kind    string // Error kind (e.g., "adapter", "quota", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *GatewayError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(op, kind string, err error) *GatewayError {
	return &GatewayError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrOperationTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRequestFailed)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdapterNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrNoMatchingTemplate) ||
		errors.Is(err, ErrCollectionNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsStateError checks if an error is related to invalid state transitions
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized)
}

// IsCancellation reports whether the error is an external cancellation, as
// opposed to a timeout. Cancelled calls must not count toward circuit
// breaker failure thresholds.
func IsCancellation(err error) bool {
	return (errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCanceled) ||
		errors.Is(err, ErrExecutionCancelled)) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// IsTimeout reports whether the error is a deadline expiry. Timeouts count
// as failures for circuit breaker accounting.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrOperationTimeout)
}
