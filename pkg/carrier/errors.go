package carrier

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies a carrier error for retry and fallback policy.
// Adapter-level errors are always classified before leaving the adapter;
// callers never see a raw carrier-specific error.
type ErrorClass string

const (
	// ClassAuth marks bad or expired carrier credentials. Fatal for that
	// carrier until re-provisioned; never retried automatically.
	ClassAuth ErrorClass = "auth"

	// ClassTransient marks timeouts, 5xx responses, and rate limiting.
	// Retried by advancing to fallback or recorded against the breaker.
	ClassTransient ErrorClass = "transient"

	// ClassValidation marks malformed requests, rejected before any
	// carrier call.
	ClassValidation ErrorClass = "validation"

	// ClassNotFound marks unknown tracking numbers, quotes, or shipments.
	ClassNotFound ErrorClass = "not_found"
)

// Error represents a classified error from a carrier integration.
type Error struct {
	Carrier string
	Class   ErrorClass
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s/%s): %s: %v", e.Carrier, e.Class, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s/%s): %s", e.Carrier, e.Class, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on carrier and class so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Carrier != "" && t.Carrier != e.Carrier {
		return false
	}
	return t.Class == e.Class
}

// NewError creates a classified carrier error.
func NewError(carrier string, class ErrorClass, code, message string) *Error {
	return &Error{Carrier: carrier, Class: class, Code: code, Message: message}
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// ClassOf returns the classification of err, or ClassTransient for
// unclassified errors (a conservative default for network-level failures).
func ClassOf(err error) ErrorClass {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}

// Retryable reports whether err may be retried against another carrier or
// later against the same one.
func Retryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

// Sentinel errors shared across the engine.
var (
	// ErrCarrierNotFound indicates the requested carrier is not registered.
	ErrCarrierNotFound = errors.New("carrier not found")

	// ErrQuoteExpired indicates the quote's validity window has elapsed.
	ErrQuoteExpired = errors.New("quote has expired")

	// ErrQuoteNotFound indicates the quote reference was not found.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrAlreadyRedeemed indicates the quote reference was already used to
	// book a label. Quote references are single-use.
	ErrAlreadyRedeemed = errors.New("quote already redeemed")

	// ErrBreakerOpen indicates the carrier's circuit breaker short-circuited
	// the call without contacting the carrier.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrWouldBlock indicates the rate limiter has no token available.
	ErrWouldBlock = errors.New("rate limit would block")

	// ErrCapabilityUnsupported indicates the carrier does not support the
	// requested operation.
	ErrCapabilityUnsupported = errors.New("capability not supported")
)

// AttemptFailure records one carrier's failure inside an aggregate error.
type AttemptFailure struct {
	Carrier string
	Reason  error
}

// AllFailedError aggregates per-carrier failures when no carrier could
// serve an operation. It always carries the full breakdown; callers must
// never collapse it into a bare "service unavailable".
type AllFailedError struct {
	Op       string
	Failures []AttemptFailure
}

func (e *AllFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Carrier, f.Reason))
	}
	return fmt.Sprintf("%s failed for all carriers: %s", e.Op, strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Reason
	}
	return errs
}
