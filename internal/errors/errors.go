// Package errors defines the gateway error taxonomy.
//
// DESIGN: Every failure surfaced by the routing path is one of a small set
// of classes, carried by *Error:
//   - service_not_found:   unknown logical service name (caller error)
//   - circuit_open:        breaker is protecting an unhealthy service
//   - timeout:             outbound call exceeded its budget
//   - transport_error:     connection refused/reset/DNS failure
//   - invalid_batch:       malformed or oversized batch input
//   - upstream_error:      backend answered with an application-level error
//   - service_unavailable: transport retries exhausted
//
// Handlers map classes to HTTP statuses with HTTPStatus; callers test
// classes with the Is* helpers (errors.As based, wrapping-safe).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is a machine-readable error class tag.
type Class string

const (
	// ClassServiceNotFound indicates an unknown logical service name.
	ClassServiceNotFound Class = "service_not_found"
	// ClassCircuitOpen indicates the breaker rejected the call without a network attempt.
	ClassCircuitOpen Class = "circuit_open"
	// ClassTimeout indicates the outbound call exceeded the descriptor's timeout.
	ClassTimeout Class = "timeout"
	// ClassTransport indicates a connection-level failure (refused, reset, DNS).
	ClassTransport Class = "transport_error"
	// ClassInvalidBatch indicates malformed batch input; no sub-calls were made.
	ClassInvalidBatch Class = "invalid_batch"
	// ClassUpstream indicates the backend responded with an application-level error.
	ClassUpstream Class = "upstream_error"
	// ClassUnavailable indicates transport retries were exhausted.
	ClassUnavailable Class = "service_unavailable"
)

// Error is the structured gateway error.
type Error struct {
	// Class tags the failure for callers and logs.
	Class Class `json:"class"`
	// Service is the logical service the failure originated from (may be empty
	// for input validation errors).
	Service string `json:"service,omitempty"`
	// Message describes the failure.
	Message string `json:"message"`
	// Status is the verbatim upstream HTTP status for upstream_error; zero otherwise.
	Status int `json:"status,omitempty"`
	// Body is the verbatim upstream response body for upstream_error (may be nil).
	Body []byte `json:"-"`
	// ContentType is the upstream body's content type, for verbatim pass-through.
	ContentType string `json:"-"`
	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s: %s", e.Class, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the gateway may retry the failed attempt.
// Only transport-class failures are retryable; an upstream response, however
// unhappy, already carries the semantics the backend intended.
func (e *Error) Retryable() bool {
	return e.Class == ClassTimeout || e.Class == ClassTransport
}

// NewServiceNotFound creates a service_not_found error.
func NewServiceNotFound(service string) *Error {
	return &Error{
		Class:   ClassServiceNotFound,
		Service: service,
		Message: fmt.Sprintf("service %q is not registered", service),
	}
}

// NewCircuitOpen creates a circuit_open error.
func NewCircuitOpen(service string) *Error {
	return &Error{
		Class:   ClassCircuitOpen,
		Service: service,
		Message: fmt.Sprintf("circuit breaker for %q is open", service),
	}
}

// NewTimeout creates a timeout error wrapping the deadline failure.
func NewTimeout(service string, err error) *Error {
	return &Error{
		Class:   ClassTimeout,
		Service: service,
		Message: "call exceeded timeout budget",
		Err:     err,
	}
}

// NewTransport creates a transport_error wrapping the connection failure.
func NewTransport(service string, err error) *Error {
	msg := "connection failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Class:   ClassTransport,
		Service: service,
		Message: msg,
		Err:     err,
	}
}

// NewInvalidBatch creates an invalid_batch error.
func NewInvalidBatch(msg string) *Error {
	return &Error{
		Class:   ClassInvalidBatch,
		Message: msg,
	}
}

// NewUpstream creates an upstream_error carrying the backend's verbatim
// status, body, and content type for pass-through.
func NewUpstream(service string, status int, contentType string, body []byte) *Error {
	return &Error{
		Class:       ClassUpstream,
		Service:     service,
		Message:     fmt.Sprintf("upstream responded HTTP %d", status),
		Status:      status,
		Body:        body,
		ContentType: contentType,
	}
}

// NewUnavailable creates a service_unavailable error carrying the last
// underlying failure after retry exhaustion.
func NewUnavailable(service string, cause error) *Error {
	msg := "service unavailable"
	if cause != nil {
		msg = fmt.Sprintf("service unavailable: %v", cause)
	}
	return &Error{
		Class:   ClassUnavailable,
		Service: service,
		Message: msg,
		Err:     cause,
	}
}

// ClassOf extracts the class from an error chain, or "" for foreign errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// ServiceOf extracts the originating service from an error chain.
func ServiceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Service
	}
	return ""
}

// IsNotFound checks for a service_not_found error.
func IsNotFound(err error) bool { return ClassOf(err) == ClassServiceNotFound }

// IsCircuitOpen checks for a circuit_open error.
func IsCircuitOpen(err error) bool { return ClassOf(err) == ClassCircuitOpen }

// IsTimeout checks for a timeout error.
func IsTimeout(err error) bool { return ClassOf(err) == ClassTimeout }

// IsTransport checks for a transport_error.
func IsTransport(err error) bool { return ClassOf(err) == ClassTransport }

// IsInvalidBatch checks for an invalid_batch error.
func IsInvalidBatch(err error) bool { return ClassOf(err) == ClassInvalidBatch }

// IsUpstream checks for an upstream_error.
func IsUpstream(err error) bool { return ClassOf(err) == ClassUpstream }

// IsUnavailable checks for a service_unavailable error.
func IsUnavailable(err error) bool { return ClassOf(err) == ClassUnavailable }

// IsRetryable reports whether err is a retryable gateway error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// HTTPStatus maps an error to the status the gateway should answer with.
// upstream_error passes the backend status through verbatim; foreign errors
// map to 500.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Class {
	case ClassServiceNotFound:
		return http.StatusNotFound
	case ClassCircuitOpen, ClassUnavailable:
		return http.StatusServiceUnavailable
	case ClassTimeout:
		return http.StatusGatewayTimeout
	case ClassTransport:
		return http.StatusBadGateway
	case ClassInvalidBatch:
		return http.StatusBadRequest
	case ClassUpstream:
		if e.Status > 0 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
