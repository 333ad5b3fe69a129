package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. GOGATE_BASE_URL or GOGATE_MAX_RETRIES.
const EnvPrefix = "GOGATE"

// DotEnvFile is the file written by `gogate setup` and read on every Load.
const DotEnvFile = ".env"

// Load builds the configuration from, in increasing precedence:
//  1. built-in defaults
//  2. a YAML file (explicit path, GOGATE_CONFIG, ./gogate.yaml, ~/.config/gogate/gogate.yaml)
//  3. legacy variables BASE_URL, REQUEST_TIMEOUT and STREAM_TIMEOUT (seconds)
//  4. GOGATE_* environment variables
//
// Variables from a .env file in the working directory are loaded first and
// never override variables already present in the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", DotEnvFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gogate")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gogate")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine, env-only configuration is the common case
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(secondsHook())); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := applyLegacyEnv(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("model", d.Model)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("stream_timeout", d.StreamTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("backoff_base", d.BackoffBase)
	v.SetDefault("backoff_unit", d.BackoffUnit)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("telemetry_url", d.TelemetryURL)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}

// applyLegacyEnv maps the variable names used by the older example scripts.
// The prefixed form wins when both are set.
func applyLegacyEnv(c *Config) error {
	if v := os.Getenv("BASE_URL"); v != "" && os.Getenv(EnvPrefix+"_BASE_URL") == "" {
		c.BaseURL = v
	}
	legacy := []struct {
		name string
		dst  *time.Duration
	}{
		{"REQUEST_TIMEOUT", &c.RequestTimeout},
		{"STREAM_TIMEOUT", &c.StreamTimeout},
	}
	for _, l := range legacy {
		raw := os.Getenv(l.name)
		if raw == "" || os.Getenv(EnvPrefix+"_"+l.name) != "" {
			continue
		}
		d, err := ParseSeconds(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", l.name, err)
		}
		*l.dst = d
	}
	return nil
}

// secondsHook decodes durations with ParseSeconds, so GOGATE_REQUEST_TIMEOUT=30
// and request_timeout: 30 both mean thirty seconds, like the legacy names.
func secondsHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseSeconds(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}

// ParseSeconds accepts either a bare number of seconds ("60", "0.5") or a
// Go duration string ("90s").
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Dump renders the configuration as YAML. The API key is masked.
func Dump(c Config) ([]byte, error) {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return yaml.Marshal(dumpView{
		BaseURL:        c.BaseURL,
		APIKey:         c.APIKey,
		Model:          c.Model,
		RequestTimeout: c.RequestTimeout.String(),
		StreamTimeout:  c.StreamTimeout.String(),
		MaxRetries:     c.MaxRetries,
		BackoffBase:    c.BackoffBase,
		BackoffUnit:    c.BackoffUnit.String(),
		PollInterval:   c.PollInterval.String(),
		LogLevel:       c.LogLevel,
		TelemetryURL:   c.TelemetryURL,
		MetricsAddr:    c.MetricsAddr,
	})
}

// dumpView prints durations the way they are written in the YAML file;
// yaml.v3 would otherwise emit them as nanosecond integers.
type dumpView struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key,omitempty"`
	Model          string  `yaml:"model"`
	RequestTimeout string  `yaml:"request_timeout"`
	StreamTimeout  string  `yaml:"stream_timeout"`
	MaxRetries     int     `yaml:"max_retries"`
	BackoffBase    float64 `yaml:"backoff_base"`
	BackoffUnit    string  `yaml:"backoff_unit"`
	PollInterval   string  `yaml:"poll_interval"`
	LogLevel       string  `yaml:"log_level"`
	TelemetryURL   string  `yaml:"telemetry_url,omitempty"`
	MetricsAddr    string  `yaml:"metrics_addr,omitempty"`
}
