package client

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"GoGate/pkg/config"
	"GoGate/pkg/metrics"
)

// Operation is one attempt of a logical call.
type Operation func(ctx context.Context) (*RawResponse, error)

// RetryState describes the retry loop of one logical call. Attempt is the
// zero-based index of the last attempt made.
type RetryState struct {
	Attempt     int
	MaxRetries  int
	BackoffBase float64
}

// Retryer retries operations that the gateway rejects with HTTP 429. The
// wait before attempt n+1 is Unit * BackoffBase^(n-1) for 1-based n. Any
// other status or a network failure ends the call immediately.
type Retryer struct {
	MaxRetries  int
	BackoffBase float64
	Unit        time.Duration

	timer  backoff.Timer
	logger *slog.Logger
}

// NewRetryer creates a Retryer from the retry settings in cfg.
func NewRetryer(cfg config.Config, opts ...Option) *Retryer {
	o := buildOptions(opts)
	unit := cfg.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}
	return &Retryer{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		Unit:        unit,
		timer:       o.timer,
		logger:      o.logger,
	}
}

func (r *Retryer) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Unit
	b.Multiplier = r.BackoffBase
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0

	retries := r.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, fails with something other than 429, or
// MaxRetries attempts were rate limited. A successful response is returned
// with a nil error; a failure returns *StatusError, *NetworkError,
// *RetryExhausted or the context error.
func (r *Retryer) Do(ctx context.Context, op Operation) (*RawResponse, RetryState, error) {
	state := RetryState{MaxRetries: r.MaxRetries, BackoffBase: r.BackoffBase}
	attempts := 0

	var (
		result *RawResponse
		last   *StatusError
	)
	attempt := func() error {
		state.Attempt = attempts
		attempts++

		resp, err := op(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp.OK() {
			result = resp
			return nil
		}
		_ = resp.Close()
		se := resp.StatusError()
		if se.Code == http.StatusTooManyRequests {
			last = se
			return se
		}
		return backoff.Permanent(se)
	}

	notify := func(err error, wait time.Duration) {
		metrics.RetriesTotal.Inc()
		r.logger.Info("rate limited, retrying",
			"attempt", attempts, "max_retries", r.MaxRetries, "wait", wait)
	}

	err := backoff.RetryNotifyWithTimer(attempt, r.policy(ctx), notify, r.timer)
	if err == nil {
		return result, state, nil
	}

	var se *StatusError
	if errors.As(err, &se) && se == last {
		metrics.RetryExhaustedTotal.Inc()
		r.logger.Warn("max retries exceeded", "attempts", attempts)
		return nil, state, &RetryExhausted{Attempts: attempts, Last: last}
	}
	return nil, state, err
}
