package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	// KindNotFound represents HTTP 404.
	KindNotFound ErrorKind = "not_found"

	// KindRateLimited represents HTTP 429.
	KindRateLimited ErrorKind = "rate_limited"

	// KindServer represents HTTP 5xx.
	KindServer ErrorKind = "server"

	// KindTransport represents any other non-2xx status, a network or timeout
	// failure, or a 2xx body that could not be projected.
	KindTransport ErrorKind = "transport"
)

// ErrUnexpectedStatus is wrapped by transport errors raised for a status that
// is neither 2xx, 404, 429 nor 5xx.
var ErrUnexpectedStatus = errors.New("unexpected status")

// ErrNotStructured is returned when a body that is not JSON is decoded.
var ErrNotStructured = errors.New("body is not structured data")

// FetchError is a classified request failure.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error (status %d)", e.URL, e.Kind, e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may be re-attempted after a delay.
// Only throttling is retried; outages and missing resources are not.
func (e *FetchError) Retryable() bool {
	return e != nil && e.Kind == KindRateLimited
}

// NewProjectionError reports a successful response whose body did not match
// the expected shape.
func NewProjectionError(url string, statusCode int, err error) *FetchError {
	return &FetchError{
		Kind:       KindTransport,
		URL:        url,
		StatusCode: statusCode,
		Err:        fmt.Errorf("project payload: %w", err),
	}
}

// Result carries either a value or a classified error, never both.
type Result[T any] struct {
	Value T
	Err   *FetchError
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a classified error.
func Fail[T any](err *FetchError) Result[T] {
	return Result[T]{Err: err}
}

// IsSuccess reports whether the result carries a value.
func (r Result[T]) IsSuccess() bool {
	return r.Err == nil
}

// ErrorKind returns the error classification, or "" on success.
func (r Result[T]) ErrorKind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

// Map projects a successful value with fn. Errors pass through untouched.
func Map[T, U any](r Result[T], fn func(T) (U, *FetchError)) Result[U] {
	if r.Err != nil {
		return Fail[U](r.Err)
	}
	u, err := fn(r.Value)
	if err != nil {
		return Fail[U](err)
	}
	return Ok(u)
}
