package authorize

import (
	"fmt"
	"net/http"
)

// Reason classifies an authorization failure. The classification decides
// the HTTP status and what, if anything, is said to the client; the
// underlying cause only ever reaches the server-side logs.
type Reason string

const (
	// ReasonUnauthenticated covers missing, malformed, expired, or
	// rejected credentials.
	ReasonUnauthenticated Reason = "unauthenticated"
	// ReasonForbidden covers policy denials and missing scopes.
	ReasonForbidden Reason = "forbidden"
	// ReasonQuotaExceeded is returned when a client's request ceiling for
	// the current window has been reached.
	ReasonQuotaExceeded Reason = "quota_exceeded"
	// ReasonUpstreamUnavailable marks a provider network or timeout
	// failure. Callers see it as an authentication failure; logs record
	// it distinctly.
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
)

// Error is the only error type that crosses component boundaries in this
// subsystem. Cause is for logs, Message (optional) for operators; the
// client-facing body is derived from Reason alone.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatusCode maps the failure class to the response status.
// UpstreamUnavailable is deliberately reported as 401: an unreachable
// mandatory provider must fail the request, never wave it through.
func (e *Error) HTTPStatusCode() int {
	switch e.Reason {
	case ReasonForbidden:
		return http.StatusForbidden
	case ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// NewUnauthenticated wraps cause as a credential failure.
func NewUnauthenticated(message string, cause error) *Error {
	return &Error{Reason: ReasonUnauthenticated, Message: message, Cause: cause}
}

// NewForbidden reports a policy or scope denial.
func NewForbidden(message string) *Error {
	return &Error{Reason: ReasonForbidden, Message: message}
}

// NewQuotaExceeded reports a quota ceiling hit.
func NewQuotaExceeded() *Error {
	return &Error{Reason: ReasonQuotaExceeded}
}

// NewUpstreamUnavailable wraps a provider network or timeout failure.
func NewUpstreamUnavailable(message string, cause error) *Error {
	return &Error{Reason: ReasonUpstreamUnavailable, Message: message, Cause: cause}
}

// AsError coerces err into an *Error, wrapping unknown errors as
// Unauthenticated so that nothing internal leaks through the boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewUnauthenticated("", err)
}
