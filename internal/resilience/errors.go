package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (network timeout,
// connection reset, interrupted download).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// StatusError is a non-retryable upstream API response. Both client and
// server status codes surface immediately: a failing engine call is its
// segment's terminal failure, not something the pipeline waits out.
type StatusError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps an upstream HTTP status failure.
func NewStatusError(service string, statusCode int, err error) *StatusError {
	return &StatusError{Service: service, StatusCode: statusCode, Err: err}
}

// IsStatus reports whether err carries an upstream status failure.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). StatusError always wins: a
// response that reached us with a status code is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsStatus(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// Network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
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
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
