// Package errors provides the error taxonomy and delivery classification
// used across attrkit.
//
// The package separates three concerns:
//   - Typed errors: ValidationError, StorageError, DeliveryError
//   - Classification: map an error onto a handling Category
//   - Backoff: compute retry delays for retryable failures
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Category represents how a delivery failure should be handled.
type Category int

const (
	// CategoryRetryable indicates the batch should stay queued and be
	// retried with backoff. Examples: timeouts, 5xx, connectivity loss.
	CategoryRetryable Category = iota

	// CategoryPermanent indicates retrying would reproduce the same
	// rejection. Examples: 4xx other than 429, malformed payloads.
	CategoryPermanent

	// CategoryRateLimited indicates the server asked us to slow down.
	// Retryable, but honors a server-specified delay when present.
	CategoryRateLimited
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryRetryable:
		return "retryable"
	case CategoryPermanent:
		return "permanent"
	case CategoryRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// ValidationError indicates a malformed event rejected at enqueue time.
// Validation failures are reported synchronously and never queued.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// StorageError indicates a durable write or read failed. An enqueue that
// returns a StorageError did not persist the event; the caller may retry
// at the application layer.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// DeliveryError represents a failed batch transmission. StatusCode is zero
// for transport-level failures (no response received).
type DeliveryError struct {
	StatusCode int
	Endpoint   string
	Message    string

	// RetryAfter is the server-specified delay for 429 responses,
	// zero when the server did not provide one.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery failed with HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("delivery failed at %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("delivery failed at %s: %s", e.Endpoint, e.Message)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Classify determines how a delivery failure should be handled.
//
// HTTP responses are judged by status class: 429 is rate-limited, other
// 4xx are permanent, 5xx are retryable. Transport-level failures
// (timeouts, connection resets, DNS errors) are retryable. Validation
// failures are permanent since resending the same payload cannot succeed.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent
	}

	var delErr *DeliveryError
	if errors.As(err, &delErr) {
		if delErr.StatusCode > 0 {
			return ClassifyStatus(delErr.StatusCode)
		}
		// No response received: connectivity class.
		return CategoryRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryRetryable
	}

	// Unknown errors are permanent (fail safe against retry storms).
	return CategoryPermanent
}

// ClassifyStatus maps an HTTP status code onto a Category.
// Success classes are not represented here; callers handle 2xx directly.
func ClassifyStatus(status int) Category {
	switch {
	case status == 429:
		return CategoryRateLimited
	case status == 408:
		return CategoryRetryable
	case status >= 500:
		return CategoryRetryable
	case status >= 400:
		return CategoryPermanent
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether the error should be retried,
// including rate-limited failures.
func IsRetryable(err error) bool {
	cat := Classify(err)
	return cat == CategoryRetryable || cat == CategoryRateLimited
}
