// Package config holds the settings shared by the gateway client, the stream
// decoder and the stats poller. A Config is a plain value passed to
// constructors; nothing in this module reads configuration globally.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the effective client configuration.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    float64       `mapstructure:"backoff_base"`
	BackoffUnit    time.Duration `mapstructure:"backoff_unit"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LogLevel       string        `mapstructure:"log_level"`
	TelemetryURL   string        `mapstructure:"telemetry_url"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		BaseURL:        "http://localhost:18080",
		Model:          "gpt-oss:20b",
		RequestTimeout: 60 * time.Second,
		StreamTimeout:  90 * time.Second,
		MaxRetries:     3,
		BackoffBase:    2,
		BackoffUnit:    time.Second,
		PollInterval:   time.Second,
		LogLevel:       "info",
	}
}

// Validate checks the fields the client cannot run without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.StreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream_timeout must be positive, got %s", c.StreamTimeout))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.BackoffBase <= 1 {
		errs = append(errs, fmt.Errorf("backoff_base must be greater than 1, got %g", c.BackoffBase))
	}
	if c.BackoffUnit <= 0 {
		errs = append(errs, fmt.Errorf("backoff_unit must be positive, got %s", c.BackoffUnit))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	return errors.Join(errs...)
}
