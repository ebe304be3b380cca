// Package config defines the typed configuration surface of the
// acquisition engine and loads it from JSON or YAML files. Every field
// has a documented default; an empty file is a valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sensorstreams/align"
	"github.com/c360/sensorstreams/errors"
	"github.com/c360/sensorstreams/manager"
	"github.com/c360/sensorstreams/quality"
	"github.com/c360/sensorstreams/receiver"
	"github.com/c360/sensorstreams/recorder"
)

// Provider names accepted by ProviderConfig.Kind.
const (
	ProviderSynthetic = "synthetic"
	ProviderUDP       = "udp"
	ProviderNATS      = "nats"
	ProviderWebSocket = "websocket"
)

// ProviderConfig selects and configures the stream transport.
type ProviderConfig struct {
	// Kind is one of "synthetic", "udp", "nats" or "websocket".
	Kind string `json:"kind" yaml:"kind"`

	// Addr is the transport address: a UDP listen address, NATS server
	// URL or WebSocket discovery base URL depending on Kind.
	Addr string `json:"addr" yaml:"addr"`

	// Subject is the NATS subject prefix sources announce on. NATS only.
	Subject string `json:"subject" yaml:"subject"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// RecorderConfig wraps recorder settings with an enable switch.
type RecorderConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	recorder.Config `yaml:",inline"`
}

// Config is the complete engine configuration.
type Config struct {
	// Sources names the sources to connect; empty with All unset means
	// the engine starts idle. All connects every discovered source.
	Sources []string `json:"sources" yaml:"sources"`
	All     bool     `json:"all" yaml:"all"`

	// Reference names the synchronization reference stream. Empty picks
	// the first connected stream.
	Reference string `json:"reference" yaml:"reference"`

	Provider ProviderConfig  `json:"provider" yaml:"provider"`
	Receiver receiver.Config `json:"receiver" yaml:"receiver"`
	Quality  quality.Config  `json:"quality" yaml:"quality"`
	Sync     align.Config    `json:"sync" yaml:"sync"`
	Recorder RecorderConfig  `json:"recorder" yaml:"recorder"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`

	// DiscoverTimeout bounds discovery queries.
	DiscoverTimeout time.Duration `json:"discover_timeout" yaml:"discover_timeout"`

	// StopTimeout bounds the per-stream join during shutdown.
	StopTimeout time.Duration `json:"stop_timeout" yaml:"stop_timeout"`

	// StatusInterval is the cadence of periodic status logging. Zero
	// disables it.
	StatusInterval time.Duration `json:"status_interval" yaml:"status_interval"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		All:             true,
		Provider:        ProviderConfig{Kind: ProviderSynthetic},
		Receiver:        receiver.DefaultConfig(),
		Metrics:         MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		DiscoverTimeout: 5 * time.Second,
		StopTimeout:     5 * time.Second,
		StatusInterval:  30 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads a configuration file, applies defaults for absent fields
// and validates the result. The format is chosen by file extension:
// .yaml/.yml parse as YAML, everything else as JSON.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "file read")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "file parse")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Sub-configurations validate
// their own ranges.
func (c Config) Validate() error {
	switch c.Provider.Kind {
	case ProviderSynthetic:
	case ProviderUDP, ProviderNATS, ProviderWebSocket:
		if c.Provider.Addr == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: provider.addr is required for kind %q", errors.ErrMissingConfig, c.Provider.Kind),
				"config", "Validate", "provider check")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown provider kind %q", errors.ErrInvalidConfig, c.Provider.Kind),
			"config", "Validate", "provider check")
	}

	if err := c.Quality.Validate(); err != nil {
		return err
	}
	if err := c.Recorder.Config.Validate(); err != nil {
		return err
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown log level %q", errors.ErrInvalidConfig, c.LogLevel),
			"config", "Validate", "log level check")
	}
	return nil
}

// ManagerConfig assembles the manager's configuration slice.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		DiscoverTimeout: c.DiscoverTimeout,
		StopTimeout:     c.StopTimeout,
		Receiver:        c.Receiver,
		Quality:         c.Quality,
		Sync:            c.Sync,
	}
}

// Selection returns the source selection this configuration names.
func (c Config) Selection() manager.Selection {
	return manager.Selection{Names: c.Sources, All: c.All}
}

// ToJSON renders the configuration for debug logging.
func (c Config) ToJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
