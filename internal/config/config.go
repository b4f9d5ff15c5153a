// Package config loads statetree configuration from a YAML file, an optional
// .env file and STATETREE_* environment overrides.
//
// Precedence, lowest first: built-in defaults, the YAML file (with ${VAR}
// expansion), then STATETREE_* variables. Values from .env never replace
// variables already present in the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/watch"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "statetree.yaml"

// ErrNotFound is returned by Load when the named file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// Config is the root configuration document.
type Config struct {
	Log        LoggingConfig `yaml:"log"`
	Validation string        `yaml:"validation"`
	Store      StoreConfig   `yaml:"store"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Watch      WatchConfig   `yaml:"watch"`
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// StoreConfig locates the snapshot database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// WatchConfig tunes the hot-reload watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DebounceDuration parses Debounce, falling back to the watcher default
// when it is empty or malformed.
func (w WatchConfig) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return watch.DefaultDebounce
	}
	return d
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log:        LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		Validation: serialization.ValidationStrict.String(),
		Store:      StoreConfig{Path: "statetree.db"},
		Watch:      WatchConfig{Debounce: watch.DefaultDebounce.String()},
	}
}

// Load builds a configuration from defaults, the file at path and the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// normalize case-folds enumerations and refills fields left empty by the file.
func (c *Config) normalize() {
	c.Log.Level = NormalizeLogLevel(string(c.Log.Level))
	c.Log.Format = NormalizeLogFormat(string(c.Log.Format))
	if c.Validation == "" {
		c.Validation = serialization.ValidationStrict.String()
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = watch.DefaultDebounce.String()
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if !c.Log.Level.Valid() {
		return fmt.Errorf("log.level: unsupported value %q", c.Log.Level)
	}
	if !c.Log.Format.Valid() {
		return fmt.Errorf("log.format: unsupported value %q", c.Log.Format)
	}
	if _, err := serialization.ParseValidationLevel(c.Validation); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	if c.Store.Path == "" {
		return errors.New("store.path: must not be empty")
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("watch.debounce: must be positive, got %s", d)
	}
	return nil
}

// ValidationLevel returns the parsed validation level. Call after Validate.
func (c *Config) ValidationLevel() serialization.ValidationLevel {
	level, err := serialization.ParseValidationLevel(c.Validation)
	if err != nil {
		return serialization.ValidationStrict
	}
	return level
}

// ReaderOptions returns checkpoint reader options matching the configuration.
func (c *Config) ReaderOptions() serialization.ReaderOptions {
	return serialization.ReaderOptions{ValidationLevel: c.ValidationLevel()}
}
