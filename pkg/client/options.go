package client

import (
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// Option customizes the client components.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	timer      backoff.Timer
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		// no client-level timeout: Transport enforces its own per-call budget
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used by every component. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout should be
// zero; timeouts are applied per call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithBackoffTimer replaces the timer the retry controller sleeps on.
func WithBackoffTimer(t backoff.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}
