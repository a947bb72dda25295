// Package config loads the relay settings from file, environment, and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"relay/internal/observability"
	"relay/internal/server"
)

// ClientConfig holds the settings of the consuming side: the stream
// subscription and the polling fallback.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:8080/api".
	BaseURL string `mapstructure:"base_url"`
	// AuthToken, when set, is sent as a Bearer credential.
	AuthToken string `mapstructure:"auth_token"`
	// Transport selects the push transport: "sse" or "ws".
	Transport string `mapstructure:"transport"`

	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPollTime  time.Duration `mapstructure:"max_poll_time"`
}

// Config is the full relay configuration.
type Config struct {
	LogLevel string                      `mapstructure:"log_level"`
	Client   ClientConfig                `mapstructure:"client"`
	Server   server.Config               `mapstructure:"server"`
	Metrics  observability.MetricsConfig `mapstructure:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			BaseURL:        "http://localhost:8080/api",
			Transport:      "sse",
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			PollInterval:   2 * time.Second,
			MaxPollTime:    5 * time.Minute,
		},
		Server: server.DefaultConfig(),
		Metrics: observability.MetricsConfig{
			Enabled:        false,
			PrometheusPort: 9464,
		},
	}
}

// Load reads the configuration. An explicit path wins; otherwise
// relay-config.yaml is searched in the working directory and $HOME.
// RELAY_* environment variables override file values, e.g.
// RELAY_CLIENT_BASE_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay-config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults; an explicit path must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("client.base_url", cfg.Client.BaseURL)
	v.SetDefault("client.transport", cfg.Client.Transport)
	v.SetDefault("client.initial_backoff", cfg.Client.InitialBackoff)
	v.SetDefault("client.max_backoff", cfg.Client.MaxBackoff)
	v.SetDefault("client.poll_interval", cfg.Client.PollInterval)
	v.SetDefault("client.max_poll_time", cfg.Client.MaxPollTime)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.enable_cors", cfg.Server.EnableCORS)
	v.SetDefault("server.heartbeat_interval", cfg.Server.HeartbeatInterval)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.prometheus_port", cfg.Metrics.PrometheusPort)
}

func (c Config) validate() error {
	switch c.Client.Transport {
	case "sse", "ws":
	default:
		return fmt.Errorf("unknown transport %q (want sse or ws)", c.Client.Transport)
	}
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url must not be empty")
	}
	return nil
}
