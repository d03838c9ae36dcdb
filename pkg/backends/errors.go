package backends

import (
	"errors"
	"fmt"
	"time"
)

// ProviderNotFoundError indicates the identifier named a provider that is
// not registered.
type ProviderNotFoundError struct {
	// Provider is the unknown provider name
	Provider string
}

// Error implements the error interface.
func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q not found", e.Provider)
}

// ModelNotFoundError indicates the provider exists but does not serve the
// requested model.
type ModelNotFoundError struct {
	// Provider is the resolved provider name
	Provider string

	// Model is the unknown model identifier
	Model string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("provider %q does not serve model %q", e.Provider, e.Model)
}

// UnsupportedOperationError indicates the model exists but its capability
// set does not include the requested operation.
type UnsupportedOperationError struct {
	Provider  string
	Model     string
	Operation Operation
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("model %q/%q does not support operation %q",
		e.Provider, e.Model, e.Operation)
}

// TimeoutError indicates the backend did not respond within the configured
// timeout. Retryable at the orchestrator level for idempotent operations.
type TimeoutError struct {
	// Provider is the backend where the timeout occurred
	Provider string

	// Timeout is the configured timeout duration
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %q request timeout after %s", e.Provider, e.Timeout)
}

// RateLimitedError indicates the backend rejected the request with a rate
// limit response. Not retried; surfaced to the caller.
type RateLimitedError struct {
	// Provider is the backend that rate limited the request
	Provider string

	// RetryAfter is the backend-suggested wait duration, if provided
	RetryAfter time.Duration

	// Message is the backend's error message
	Message string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("backend %q rate limited (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("backend %q rate limited: %s", e.Provider, e.Message)
}

// UnavailableError indicates the backend is unreachable or returned a
// server-side failure. Retryable at the orchestrator level.
type UnavailableError struct {
	// Provider is the unavailable backend
	Provider string

	// StatusCode is the HTTP status code, if the failure was an HTTP response
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %q unavailable (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("backend %q unavailable: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// InvalidRequestError indicates the backend rejected the request payload.
// Not retryable.
type InvalidRequestError struct {
	// Provider is the backend that rejected the request
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the backend's error message
	Message string
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("backend %q rejected request: %s", e.Provider, e.Message)
}

// ConfigError indicates an invalid backend configuration.
type ConfigError struct {
	Provider string
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("backend %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}

// IsRetryable reports whether the orchestrator may retry the failed call.
// Only timeouts and unavailability are transient; rate limits and invalid
// requests are surfaced immediately.
func IsRetryable(err error) bool {
	var timeout *TimeoutError
	var unavailable *UnavailableError
	return errors.As(err, &timeout) || errors.As(err, &unavailable)
}

// IsResolveError reports whether the error is a request-shape error produced
// at resolve time, before any credit was reserved.
func IsResolveError(err error) bool {
	var provider *ProviderNotFoundError
	var model *ModelNotFoundError
	var op *UnsupportedOperationError
	return errors.As(err, &provider) || errors.As(err, &model) || errors.As(err, &op)
}
