package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type LogConfig struct {
	// Format is "json" or "text".
	Format string
	// Level is one of none, debug, info, warn or error.
	Level string
}

type HTTPConfig struct {
	Addr               string
	Timeout            time.Duration
	Pretty             bool
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	MetadataHeaders    []string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type TraceConfig struct {
	Endpoint    string
	ServiceName string
}

type AuthnConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CacheConfig struct {
	Enabled bool
	Size    int64
	TTL     time.Duration
}

type ProcedureConfig struct {
	Timeout    time.Duration
	MaxRetries uint64
}

// Config is the procd configuration. Values come from flags, PROCD_*
// environment variables and config.yaml, in that order of precedence.
type Config struct {
	Log       LogConfig
	HTTP      HTTPConfig
	Metrics   MetricsConfig
	Trace     TraceConfig
	Authn     AuthnConfig
	Cache     CacheConfig
	Procedure ProcedureConfig
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Format: "text", Level: "info"},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		Trace:     TraceConfig{ServiceName: "procd"},
		Authn:     AuthnConfig{Issuer: "procd"},
		Cache:     CacheConfig{Enabled: true, Size: 10000, TTL: 30 * time.Second},
		Procedure: ProcedureConfig{Timeout: 5 * time.Second, MaxRetries: 3},
	}
}

// Verify reports settings that cannot work together.
func (c *Config) Verify() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must be set"))
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// ReadConfig merges config.yaml, the environment and bound flags over
// DefaultConfig. A missing config file is not an error.
func ReadConfig() (*Config, error) {
	config := DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	if err := viper.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load procd config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal procd config: %w", err)
	}

	return config, nil
}
