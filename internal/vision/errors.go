package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// ErrorKind is the closed set of failure categories surfaced by the analysis core.
type ErrorKind string

const (
	KindConfigInvalid    ErrorKind = "CONFIG_INVALID"
	KindAuthFailed       ErrorKind = "AUTH_FAILED"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindCircuitOpen      ErrorKind = "CIRCUIT_OPEN"
	KindNetworkTimeout   ErrorKind = "NETWORK_TIMEOUT"
	KindTransportError   ErrorKind = "TRANSPORT_ERROR"
	KindInvalidSpeedMode ErrorKind = "INVALID_SPEED_MODE"
	KindInvalidResponse  ErrorKind = "INVALID_RESPONSE"
	KindQuotaExceeded    ErrorKind = "QUOTA_EXCEEDED"
	KindUnknown          ErrorKind = "UNKNOWN"
)

// Retryable reports whether the wrapper may retry a failure of this kind
// locally. CIRCUIT_OPEN is deliberately false: the wrapper never retries it,
// the caller applies its own backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindNetworkTimeout, KindTransportError:
		return true
	default:
		return false
	}
}

// APIError is the error record carried across the failure boundary. It holds
// enough context to correlate with logs without leaking credentials.
type APIError struct {
	Kind       ErrorKind     `json:"kind"`
	Retryable  bool          `json:"retryable"`
	Message    string        `json:"message"`
	Guidance   string        `json:"guidance,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
	RetryAfter time.Duration `json:"retry_after_ms,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	cause      error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// MarshalJSON renders RetryAfter in milliseconds to match the field name.
func (e *APIError) MarshalJSON() ([]byte, error) {
	type alias APIError
	return json.Marshal(&struct {
		*alias
		RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	}{alias: (*alias)(e), RetryAfterMs: e.RetryAfter.Milliseconds()})
}

// WithRequestID returns a copy of the error tagged with a request identifier.
func (e *APIError) WithRequestID(id string) *APIError {
	c := *e
	c.RequestID = id
	return &c
}

func newError(kind ErrorKind, message, guidance string, cause error) *APIError {
	return &APIError{
		Kind:      kind,
		Retryable: kind.Retryable(),
		Message:   message,
		Guidance:  guidance,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// Error constructors

func NewConfigError(message string) *APIError {
	return newError(KindConfigInvalid, message,
		"Fix the configuration and restart; no API calls are made while configuration is invalid.", nil)
}

func NewAuthError(status int) *APIError {
	e := newError(KindAuthFailed, fmt.Sprintf("authentication rejected (HTTP %d)", status),
		"Verify the API credential; it may be expired or revoked.", nil)
	e.HTTPStatus = status
	return e
}

func NewRateLimitedError(message string, retryAfter time.Duration) *APIError {
	e := newError(KindRateLimited, message, "", nil)
	e.RetryAfter = retryAfter
	return e
}

func NewCircuitOpenError(retryAfter time.Duration) *APIError {
	e := newError(KindCircuitOpen, "circuit breaker open, request rejected without network call",
		"The analysis provider is failing; wait for the breaker to recover before retrying.", nil)
	e.RetryAfter = retryAfter
	return e
}

func NewTimeoutError(cause error) *APIError {
	return newError(KindNetworkTimeout, "request to analysis provider timed out", "", cause)
}

func NewTransportError(message string, status int, cause error) *APIError {
	e := newError(KindTransportError, message, "", cause)
	e.HTTPStatus = status
	return e
}

func NewInvalidSpeedModeError(mode string) *APIError {
	return newError(KindInvalidSpeedMode, fmt.Sprintf("unrecognized speed mode %q", mode),
		"Valid speed modes are super_fast, fast, balanced and high_accuracy.", nil)
}

func NewInvalidResponseError(message string, cause error) *APIError {
	return newError(KindInvalidResponse, message,
		"The provider returned a malformed analysis; try again or report the request id.", cause)
}

// NewBadInputError flags a caller-supplied payload problem. It shares
// INVALID_RESPONSE's kind (the taxonomy is closed) but carries guidance that
// points at the request instead of the provider.
func NewBadInputError(message string, cause error) *APIError {
	return newError(KindInvalidResponse, message,
		"Check the request payload; fix the image or request fields and resend.", cause)
}

func NewQuotaExceededError(message string) *APIError {
	return newError(KindQuotaExceeded, message,
		"The daily analysis budget is exhausted; quota resets at midnight UTC.", nil)
}

func NewUnknownError(cause error) *APIError {
	return newError(KindUnknown, "unexpected failure during analysis",
		"Retry once; if the failure persists report the request id.", cause)
}

// Classify maps a raw transport failure into the closed kind set.
// Order matters: auth first (never retried), then rate limit and timeouts
// (retried), then remaining transport failures.
func Classify(err error, status int) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthError(status)
	case status == http.StatusTooManyRequests:
		return NewRateLimitedError("provider rate limit exceeded", 0)
	case status == http.StatusPaymentRequired:
		return NewQuotaExceededError("provider quota exhausted")
	case status >= 500:
		return NewTransportError(fmt.Sprintf("provider error (HTTP %d)", status), status, err)
	case status >= 400:
		e := NewInvalidResponseError(fmt.Sprintf("provider rejected request (HTTP %d)", status), err)
		e.HTTPStatus = status
		return e
	}

	if err == nil {
		return NewUnknownError(nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	if errors.Is(err, context.Canceled) {
		return NewTransportError("request cancelled by caller", 0, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewTransportError("network error reaching provider", 0, err)
	}
	return NewTransportError("request failed", 0, err)
}

// AsAPIError unwraps err into an *APIError, wrapping unclassified errors as UNKNOWN.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewUnknownError(err)
}
