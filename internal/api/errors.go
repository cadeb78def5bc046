package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotFound     = errors.New("party not found")
	ErrRateLimited  = errors.New("rate limited by API")
	ErrUnauthorized = errors.New("authentication failed")
)

// StatusError is returned for responses that no sentinel covers.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient reports whether a request that failed with err may succeed if
// repeated: network failures, 5xx responses and rate limiting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

// transportError wraps failures below HTTP: dial, TLS, connection resets,
// truncated bodies.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
