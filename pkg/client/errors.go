package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited matches any error caused by an HTTP 429 from the gateway,
	// including RetryExhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoChoices is returned when a non-streaming response carries no choices.
	ErrNoChoices = errors.New("gateway returned no choices")
)

// NetworkError is a failure before any HTTP status was received: refused
// connections, DNS failures, timeouts and broken bodies.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline or timeout.
func (e *NetworkError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) && t.Timeout() {
		return true
	}
	return false
}

// StatusError is a non-2xx gateway response. Body is the raw response text,
// kept for diagnostics only.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("gateway returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Is makes a 429 StatusError match ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}

// RetryExhausted is returned when every attempt was rate limited. Last holds
// the final 429 response.
type RetryExhausted struct {
	Attempts int
	Last     *StatusError
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("still rate limited after %d attempts", e.Attempts)
}

func (e *RetryExhausted) Is(target error) bool { return target == ErrRateLimited }

// Kind names the error class for user-facing output: "network", "status",
// "rate_limited", "no_choices" or "error".
func Kind(err error) string {
	var (
		netErr    *NetworkError
		statusErr *StatusError
		exhausted *RetryExhausted
	)
	switch {
	case errors.As(err, &exhausted):
		return "rate_limited"
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &netErr):
		return "network"
	case errors.Is(err, ErrNoChoices):
		return "no_choices"
	default:
		return "error"
	}
}

// Describe renders err with its kind, status code and raw body when present.
func Describe(err error) string {
	var (
		statusErr *StatusError
		exhausted *RetryExhausted
	)
	switch {
	case errors.As(err, &exhausted):
		if exhausted.Last != nil && exhausted.Last.Body != "" {
			return fmt.Sprintf("[rate_limited] %d attempts, last status %d\n%s", exhausted.Attempts, exhausted.Last.Code, exhausted.Last.Body)
		}
		return fmt.Sprintf("[rate_limited] %d attempts", exhausted.Attempts)
	case errors.As(err, &statusErr):
		if statusErr.Body != "" {
			return fmt.Sprintf("[status] %d\n%s", statusErr.Code, statusErr.Body)
		}
		return fmt.Sprintf("[status] %d", statusErr.Code)
	default:
		return fmt.Sprintf("[%s] %v", Kind(err), err)
	}
}
