package exchange

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies exchange failures into the retry taxonomy.
type Kind int

const (
	KindTransient Kind = iota // 5xx, connection resets; retry with backoff
	KindRateLimited           // 429/418; honor the advertised window
	KindRejected              // order rejected with an exchange code
	KindAuthFailure           // bad or missing credentials
	KindNetwork               // DNS, dial, timeout
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindAuthFailure:
		return "auth_failure"
	case KindNetwork:
		return "network"
	}
	return "unknown"
}

// Error is a normalized exchange error.
type Error struct {
	Kind       Kind
	Code       int           // exchange error code, if any
	Msg        string
	RetryAfter time.Duration // set for rate-limited errors
	Err        error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s (code %d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the operation may be retried.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited || e.Kind == KindNetwork
}

// AsExchangeError extracts a normalized *Error, if err carries one.
func AsExchangeError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// classifyHTTP maps an HTTP status and exchange code into the taxonomy.
func classifyHTTP(status int, code int, msg string, retryAfter time.Duration) *Error {
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return &Error{Kind: KindRateLimited, Code: code, Msg: msg, RetryAfter: retryAfter}
	case status == http.StatusUnauthorized || status == http.StatusForbidden || code == -2014 || code == -2015:
		return &Error{Kind: KindAuthFailure, Code: code, Msg: msg}
	case status >= 500:
		return &Error{Kind: KindTransient, Code: code, Msg: msg}
	default:
		return &Error{Kind: KindRejected, Code: code, Msg: msg}
	}
}

// classifyTransport maps transport-level failures into the taxonomy.
func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindNetwork, Msg: "timeout", Err: err}
	}
	return &Error{Kind: KindNetwork, Msg: err.Error(), Err: err}
}
