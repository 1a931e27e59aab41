// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pulseboard Contributors

// Package config loads service configuration from a YAML file and
// command-line flags, flags winning over file values.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/pulseboard/pulseboard/internal/xdg"
)

// Defaults for service configuration.
const (
	DefaultMetricsAddr    = "127.0.0.1:9100"
	DefaultLogFormat      = "json"
	DefaultReloadInterval = 60 * time.Second
	DefaultEvalTimeout    = 5 * time.Second
)

// Config holds the service configuration.
type Config struct {
	// DatabaseURL is the postgres connection string for the document store.
	// Falls back to the DATABASE_URL environment variable when unset.
	DatabaseURL string `koanf:"database_url"`

	// RulesPath is the path to the access-rules YAML file.
	RulesPath string `koanf:"rules_path"`

	// ReloadInterval is how often the rule table is refreshed from disk.
	ReloadInterval time.Duration `koanf:"reload_interval"`

	// EvalTimeout is the per-evaluation deadline covering root lookups.
	EvalTimeout time.Duration `koanf:"eval_timeout"`

	// MetricsAddr is the metrics/health HTTP listen address (empty = disabled).
	MetricsAddr string `koanf:"metrics_addr"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RulesPath:      xdg.DefaultRulesFile(),
		ReloadInterval: DefaultReloadInterval,
		EvalTimeout:    DefaultEvalTimeout,
		MetricsAddr:    DefaultMetricsAddr,
		LogFormat:      DefaultLogFormat,
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then the given flag set. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ").With("path", path).Wrapf(err, "loading config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS").Wrapf(err, "loading flags")
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_SHAPE").With("path", path).Wrapf(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.RulesPath == "" {
		return oops.Code("CONFIG_INVALID").Errorf("rules_path is required")
	}
	if c.ReloadInterval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("reload_interval must be positive, got %s", c.ReloadInterval)
	}
	if c.EvalTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("eval_timeout must be positive, got %s", c.EvalTimeout)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}
