package client

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"GoGate/pkg/metrics"
	"GoGate/pkg/types"
)

// StatsSource fetches one stats snapshot. *Client implements it.
type StatsSource interface {
	Stats(ctx context.Context) (*types.StatsSnapshot, error)
}

// Poller samples gateway stats on a fixed interval.
type Poller struct {
	source   StatsSource
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a Poller that calls source every interval.
func NewPoller(source StatsSource, interval time.Duration, opts ...Option) *Poller {
	o := buildOptions(opts)
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{source: source, interval: interval, logger: o.logger}
}

// Poll yields one snapshot per interval, the first immediately, until
// duration has elapsed or ctx is done. The cutoff is hard: a stats call
// still in flight when it passes is cancelled. Ticks whose call fails are
// logged and skipped. Snapshots are passed through as received, even when
// they report more active jobs than capacity.
func (p *Poller) Poll(ctx context.Context, duration time.Duration) iter.Seq[types.StatsSnapshot] {
	return func(yield func(types.StatsSnapshot) bool) {
		ctx, cancel := context.WithTimeout(ctx, duration)
		defer cancel()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for ctx.Err() == nil {
			snap, err := p.source.Stats(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				p.logger.Warn("stats tick skipped", "kind", Kind(err), "error", err)
			default:
				metrics.ObserveStats(*snap)
				if !yield(*snap) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
