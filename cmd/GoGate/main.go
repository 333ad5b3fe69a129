package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"GoGate/pkg/client"
	"GoGate/pkg/config"
	"GoGate/pkg/logging"
	"GoGate/pkg/observability"
)

var (
	configPath string
	logLevel   string
)

// app holds what every gateway command needs.
type app struct {
	cfg      config.Config
	client   *client.Client
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := logging.Init(cfg.LogLevel, os.Stderr)

	shutdown, err := observability.Setup(cmd.Context(), cfg.TelemetryURL)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	logger.Debug("gateway client ready", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &app{
		cfg:      *cfg,
		client:   client.NewClient(*cfg, client.WithLogger(logger)),
		logger:   logger,
		shutdown: shutdown,
	}, nil
}

func (a *app) Close() {
	_ = a.client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown", "error", err)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "gogate",
		Short:         "A CLI tool for talking to an OpenAI-compatible chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a gogate.yaml config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		newSetupCmd(),
		newChatCmd(),
		newAskCmd(),
		newModelsCmd(),
		newStatsCmd(),
		newMonitorCmd(),
		newExamplesCmd(),
		newConfigCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", client.Describe(err))
		os.Exit(1)
	}
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Save the gateway URL and API key to .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := godotenv.Read(config.DotEnvFile)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("reading %s: %w", config.DotEnvFile, err)
			}
			if env == nil {
				env = map[string]string{}
			}

			reader := bufio.NewReader(os.Stdin)
			prompt := func(label, key, fallback string) {
				current := env[key]
				if current == "" {
					current = fallback
				}
				fmt.Printf("%s [%s]: ", label, current)
				value, _ := reader.ReadString('\n')
				value = strings.TrimSpace(value)
				if value == "" {
					value = current
				}
				if value != "" {
					env[key] = value
				}
			}

			prompt("Gateway URL", config.EnvPrefix+"_BASE_URL", config.Defaults().BaseURL)
			prompt("API key (optional)", config.EnvPrefix+"_API_KEY", "")
			prompt("Default model", config.EnvPrefix+"_MODEL", config.Defaults().Model)

			if err := godotenv.Write(env, config.DotEnvFile); err != nil {
				return fmt.Errorf("writing %s: %w", config.DotEnvFile, err)
			}
			if err := os.Chmod(config.DotEnvFile, 0o600); err != nil {
				return err
			}

			fmt.Printf("Settings saved to %s successfully!\n", config.DotEnvFile)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := config.Dump(*cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
