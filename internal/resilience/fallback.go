// Package resilience implements the primary/fallback model retry policy used
// by the provider adapters.
//
// Each adapter declares a primary and a fallback model. When a call against
// the primary fails with an HTTP status from the adapter's retryable set, the
// call is retried exactly once against the fallback model with an otherwise
// identical payload. Any other failure, or a failure of the fallback call
// itself, propagates unchanged.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// StatusError is a non-success HTTP response from a vendor API. It carries the
// status code and response body text of the failed attempt so that callers can
// key retry decisions on the status and surface the body in logs.
type StatusError struct {
	// Provider is a short vendor label (e.g. "mistral", "yandex stt").
	Provider string

	// StatusCode is the HTTP status of the failed call.
	StatusCode int

	// Body is the response body text, or "(no body)" when it could not be read.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// StatusOf extracts the HTTP status code from err when it wraps a
// [StatusError]. Returns 0 when err carries no status.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// ModelFallback pairs a primary model with a fallback model and the status
// codes that justify failing over. The zero value is unusable; all three
// fields must be set.
type ModelFallback struct {
	Primary   string
	Fallback  string
	Retryable []int
}

// Execute runs fn against the primary model. If it fails with a retryable
// status, fn runs once more against the fallback model; the fallback's outcome
// is final either way. Returns the result, the model that produced it, and the
// error of the last attempt.
func Execute[R any](f ModelFallback, fn func(model string) (R, error)) (result R, model string, err error) {
	result, err = fn(f.Primary)
	if err == nil {
		return result, f.Primary, nil
	}
	if !slices.Contains(f.Retryable, StatusOf(err)) {
		return result, f.Primary, err
	}

	slog.Warn("primary model failed, trying fallback",
		"primary", f.Primary, "fallback", f.Fallback, "error", err)

	result, err = fn(f.Fallback)
	return result, f.Fallback, err
}
