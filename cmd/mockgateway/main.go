// Command mockgateway runs a deterministic chat gateway on a local port so
// the gogate CLI can be tried without a model backend.
//
// Behaviour comes from gatewaytest.DefaultScenario, optionally replaced by a
// YAML scenario file and adjusted with flags:
//
//	mockgateway --addr :18080 --rate-limit 2 --frame-delay 200ms
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"GoGate/pkg/gatewaytest"
	"GoGate/pkg/logging"
)

func main() {
	var (
		addr       string
		scenario   string
		rateLimit  int
		frameDelay time.Duration
		reply      string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "mockgateway",
		Short:         "Serve a scripted OpenAI-compatible chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Init(logLevel, os.Stderr)

			s := gatewaytest.DefaultScenario()
			if scenario != "" {
				var err error
				if s, err = gatewaytest.LoadScenario(scenario); err != nil {
					return err
				}
			}
			if reply != "" {
				s.Reply = reply
			}
			if frameDelay > 0 {
				s.FrameDelay = frameDelay
			}
			for range rateLimit {
				s.ChatStatuses = append([]int{http.StatusTooManyRequests}, s.ChatStatuses...)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           gatewaytest.New(s).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("mock gateway starting", "addr", addr, "rate_limited_calls", rateLimit,
					"frame_delay", s.FrameDelay)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("mock gateway failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("mock gateway shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", ":18080", "Listen address")
	rootCmd.Flags().StringVar(&scenario, "scenario", "", "YAML scenario file")
	rootCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Answer the first N chat requests with 429")
	rootCmd.Flags().DurationVar(&frameDelay, "frame-delay", 0, "Delay between streamed frames")
	rootCmd.Flags().StringVar(&reply, "reply", "", "Assistant reply text")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
