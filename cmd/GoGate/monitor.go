package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"GoGate/pkg/client"
	"GoGate/pkg/types"
)

func newMonitorCmd() *cobra.Command {
	var (
		duration    time.Duration
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch gateway load for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if interval <= 0 {
				interval = a.cfg.PollInterval
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}

			poller := client.NewPoller(a.client, interval, client.WithLogger(a.logger))
			fmt.Printf("\n=== Monitoring Stats for %s ===\n\n", duration)

			g, ctx := errgroup.WithContext(cmd.Context())
			done := make(chan struct{})

			g.Go(func() error {
				defer close(done)
				monitor(ctx, os.Stdout, poller, duration)
				return nil
			})

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					a.logger.Info("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					select {
					case <-done:
					case <-ctx.Done():
					}
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "How long to monitor")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Poll interval (defaults to the configured poll interval)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while monitoring")
	return cmd
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// monitor prints one line per snapshot until duration passes. It returns
// the number of snapshots printed.
func monitor(ctx context.Context, w io.Writer, poller *client.Poller, duration time.Duration) int {
	n := 0
	for snap := range poller.Poll(ctx, duration) {
		fmt.Fprintln(w, formatSnapshot(time.Now(), snap))
		printWarnings(w, snap)
		n++
	}
	return n
}

func formatSnapshot(at time.Time, s types.StatsSnapshot) string {
	return fmt.Sprintf("[%s] Active: %d/%d | Queued: %d | Available: %d",
		at.Format("15:04:05"), s.Active, s.Capacity, s.Queued, s.Available())
}
