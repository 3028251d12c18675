// Package config loads service configuration from the environment, with an
// optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Crunch    CrunchConfig    `yaml:"crunch"`
	Forward   ForwardConfig   `yaml:"forward"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"8000" yaml:"port"`
	Host    string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	Service string `envconfig:"SERVICE_NAME" default:"monolith" yaml:"service"`
}

// UpstreamConfig points the cruncher at a remote event stream. An empty URL
// means events are consumed from the in-process bus instead.
type UpstreamConfig struct {
	URL string `envconfig:"UPSTREAM_URL" default:"" yaml:"url"`
}

// CrunchConfig holds aggregation tuning.
type CrunchConfig struct {
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"2s" yaml:"sweep_interval"`
	IdleCredits       int           `envconfig:"IDLE_CREDITS" default:"2" yaml:"idle_credits"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s" yaml:"heartbeat_interval"`
	CompletedCapacity int           `envconfig:"COMPLETED_CAPACITY" default:"100000" yaml:"completed_capacity"`
	BusBuffer         int           `envconfig:"BUS_BUFFER" default:"1024" yaml:"bus_buffer"`
}

// ForwardConfig configures the optional HTTP summary forwarder. An empty URL
// disables forwarding; summaries always go to the console sink.
type ForwardConfig struct {
	URL     string        `envconfig:"FORWARD_URL" default:"" yaml:"url"`
	Timeout time.Duration `envconfig:"FORWARD_TIMEOUT" default:"10s" yaml:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CRUNCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays a YAML file on top of the given configuration. Fields
// absent from the file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8000",
			Host:    "0.0.0.0",
			Service: "monolith",
		},
		Crunch: CrunchConfig{
			SweepInterval:     2 * time.Second,
			IdleCredits:       2,
			HeartbeatInterval: 15 * time.Second,
			CompletedCapacity: 100000,
			BusBuffer:         1024,
		},
		Forward: ForwardConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
