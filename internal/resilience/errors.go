// Package resilience provides the failure-handling building blocks for the
// harvest loop: a typed error taxonomy, a deadline-aware retry helper, a
// sliding-window circuit breaker, and the durable failed-page queue.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a transport-level fetch failure that is safe to retry
// (timeouts, connection resets, 429/5xx responses).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient fetch failure (status %d): %v", e.StatusCode, e.Err)
	}
	return "transient fetch failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// BackendUnavailableError marks a response that arrived intact but carried a
// recognized backend failure page instead of the listing. These feed the
// circuit breaker harder than plain transport errors: the backend telling us
// it is down is a stronger signal than a dropped connection.
type BackendUnavailableError struct {
	Marker string // the content marker that matched
}

func (e *BackendUnavailableError) Error() string {
	return "backend unavailable: " + e.Marker
}

// IsTransient reports whether err (or anything in its chain) is a
// TransientError or matches common transient network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors wrapped by HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsBackendUnavailable reports whether err carries a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var be *BackendUnavailableError
	return errors.As(err, &be)
}

// IsRetryable reports whether a page attempt failing with err should be
// retried. Both transient transport failures and backend error pages take
// the retry path; only context cancellation and programming errors do not.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsBackendUnavailable(err)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
