// Package config loads smellsync configuration from YAML with environment
// overrides, and can watch the file for live tuning changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"smellsync/pkg/engine"
)

// Config holds all smellsync configuration.
type Config struct {
	Tuning  TuningConfig  `yaml:"tuning"`
	Logging LoggingConfig `yaml:"logging"`
}

// TuningConfig mirrors engine.Tuning with duration strings so config files
// can say "250ms" or "20m". Empty fields fall back to defaults.
type TuningConfig struct {
	DebounceWindow    string `yaml:"debounce_window"`
	FreshFor          string `yaml:"fresh_for"`
	Retention         string `yaml:"retention"`
	GCInterval        string `yaml:"gc_interval"`
	RetryAttempts     int    `yaml:"retry_attempts"`
	RetryBaseDelay    string `yaml:"retry_base_delay"`
	PrefetchNeighbors *bool  `yaml:"prefetch_neighbors"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{}
}

// Load reads the config file at path, applies environment overrides, and
// returns the result. A missing file is not an error; defaults plus env
// apply. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays SMELLSYNC_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SMELLSYNC_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Debug = b
		}
	}
	if v := os.Getenv("SMELLSYNC_DEBOUNCE_WINDOW"); v != "" {
		cfg.Tuning.DebounceWindow = v
	}
	if v := os.Getenv("SMELLSYNC_FRESH_FOR"); v != "" {
		cfg.Tuning.FreshFor = v
	}
	if v := os.Getenv("SMELLSYNC_RETENTION"); v != "" {
		cfg.Tuning.Retention = v
	}
	if v := os.Getenv("SMELLSYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Tuning.RetryAttempts = n
		}
	}
	if v := os.Getenv("SMELLSYNC_PREFETCH_NEIGHBORS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tuning.PrefetchNeighbors = &b
		}
	}
}

// EngineTuning converts the duration strings into an engine.Tuning, starting
// from defaults so unset fields keep their stock values.
func (c Config) EngineTuning() (engine.Tuning, error) {
	t := engine.DefaultTuning()

	set := func(dst *time.Duration, raw, field string) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("tuning.%s: %w", field, err)
		}
		*dst = d
		return nil
	}

	if err := set(&t.DebounceWindow, c.Tuning.DebounceWindow, "debounce_window"); err != nil {
		return t, err
	}
	if err := set(&t.FreshFor, c.Tuning.FreshFor, "fresh_for"); err != nil {
		return t, err
	}
	if err := set(&t.Retention, c.Tuning.Retention, "retention"); err != nil {
		return t, err
	}
	if err := set(&t.GCInterval, c.Tuning.GCInterval, "gc_interval"); err != nil {
		return t, err
	}
	if err := set(&t.RetryBaseDelay, c.Tuning.RetryBaseDelay, "retry_base_delay"); err != nil {
		return t, err
	}
	if c.Tuning.RetryAttempts > 0 {
		t.RetryAttempts = c.Tuning.RetryAttempts
	}
	if c.Tuning.PrefetchNeighbors != nil {
		t.PrefetchNeighbors = *c.Tuning.PrefetchNeighbors
	}
	return t, nil
}
