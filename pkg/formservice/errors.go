package formservice

import (
	"errors"
	"fmt"
)

var (
	ErrCircuitOpen = errors.New("form service circuit open")
	// ErrHTMLResponse means a login page or proxy error page came back where
	// the service should have answered with JSON.
	ErrHTMLResponse = errors.New("got HTML instead of JSON. Check destination URL and service path.")
	// ErrRedirected means a write was answered with a redirect, usually to
	// the login page after the session expired.
	ErrRedirected = errors.New("form service redirected the request")
)

// StatusError is a definitive non-2xx answer from the service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a network-level failure, including a
// fast failure from an open circuit. Callers treat these as "offline".
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}

// IsUnconfirmed reports whether err leaves it unknown if the server stored a
// write. Such writes are safe to queue and replay.
func IsUnconfirmed(err error) bool {
	return IsTransport(err) || errors.Is(err, ErrHTMLResponse) || errors.Is(err, ErrRedirected)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
