package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/surge/internal/logging"
	"github.com/studiowebux/surge/internal/types"
)

// Defaults applied when fields are left unset.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxWorkerSlots = 100
	DefaultDatabasePath   = "surge.db"
)

// TransportConfig tunes the shared HTTP client.
type TransportConfig struct {
	// Kind selects the client implementation: "nethttp" (default)
	// or "fasthttp".
	Kind string `yaml:"kind"`

	RequestTimeout  time.Duration    `yaml:"requestTimeout"`
	MaxIdleConns    int              `yaml:"maxIdleConns"`
	MaxConnsPerHost int              `yaml:"maxConnsPerHost"`
	TLS             *types.TLSConfig `yaml:"tls"`
}

// HistoryConfig controls the SQLite history sink.
type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

// Config is the engine configuration, loadable from YAML.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	History   HistoryConfig   `yaml:"history"`
	Logging   *logging.Config `yaml:"logging"`

	// MaxWorkerSlots caps concurrent workers across all batches.
	MaxWorkerSlots int `yaml:"maxWorkerSlots"`

	// RampUp staggers batch worker starts across this window instead
	// of releasing them all at once.
	RampUp time.Duration `yaml:"rampUp"`

	// MetricsAddr exposes Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metricsAddr"`

	// ProgressFeedAddr serves the WebSocket progress feed when set.
	ProgressFeedAddr string `yaml:"progressFeedAddr"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = "nethttp"
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = DefaultRequestTimeout
	}
	if c.Transport.MaxIdleConns == 0 {
		c.Transport.MaxIdleConns = 100
	}
	if c.Transport.MaxConnsPerHost == 0 {
		c.Transport.MaxConnsPerHost = 200
	}
	if c.MaxWorkerSlots == 0 {
		c.MaxWorkerSlots = DefaultMaxWorkerSlots
	}
	if c.History.Path == "" {
		c.History.Path = DefaultDatabasePath
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "nethttp", "fasthttp":
	default:
		return fmt.Errorf("unknown transport kind: %q", c.Transport.Kind)
	}
	if c.Transport.RequestTimeout < 0 {
		return fmt.Errorf("transport request timeout cannot be negative")
	}
	if c.MaxWorkerSlots < 1 {
		return fmt.Errorf("maxWorkerSlots must be at least 1")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("rampUp cannot be negative")
	}
	return nil
}
