// Package config provides configuration types for the downloader.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Common errors.
var (
	ErrMissingURL = errors.New("URL is required")
)

// Config holds all engine and CLI configuration.
type Config struct {
	// Download settings
	Concurrency   int           `toml:"concurrency"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`

	// RequestTimeout bounds each individual HTTP request, including
	// retried segment fetches. Zero disables the per-request deadline.
	RequestTimeout time.Duration `toml:"request_timeout"`

	// MaxBandwidth caps download speed in bytes per second, 0 = unlimited.
	MaxBandwidth int64 `toml:"max_bandwidth"`

	// HTTP settings
	Headers map[string]string `toml:"headers"`

	// Output
	OutputDir string `toml:"output_dir"`

	// Logging
	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`

	// UI
	NoProgress bool `toml:"no_progress"`
}

// Default configuration values.
const (
	DefaultConcurrency    = 8
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultRequestTimeout = 30 * time.Second

	MaxConcurrency = 64
	MinConcurrency = 1
)

// New returns a Config with sensible defaults.
func New() *Config {
	return &Config{
		Concurrency:    DefaultConcurrency,
		RetryAttempts:  DefaultRetryAttempts,
		RetryDelay:     DefaultRetryDelay,
		RequestTimeout: DefaultRequestTimeout,
		Headers:        make(map[string]string),
		OutputDir:      ".",
		LogLevel:       "info",
	}
}

// LoadFile reads a TOML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and normalizes values.
func (c *Config) Validate() error {
	if c.Concurrency < MinConcurrency {
		c.Concurrency = MinConcurrency
	}
	if c.Concurrency > MaxConcurrency {
		c.Concurrency = MaxConcurrency
	}

	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}

	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}

	return nil
}
