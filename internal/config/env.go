package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STATETREE_"

// envFiles are tried in order; each one found is loaded.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads dotenv files from the working directory. godotenv.Load
// never overrides a variable that is already set, so the process environment
// wins over the files and the first file wins over later ones.
func loadEnvFiles() error {
	for _, name := range envFiles {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// applyEnvOverrides overwrites fields whose STATETREE_* variable is set and
// non-empty.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		name string
		set  func(string)
	}{
		{"LOG_LEVEL", func(v string) { cfg.Log.Level = LogLevel(v) }},
		{"LOG_FORMAT", func(v string) { cfg.Log.Format = LogFormat(v) }},
		{"VALIDATION", func(v string) { cfg.Validation = v }},
		{"STORE_PATH", func(v string) { cfg.Store.Path = v }},
		{"METRICS_ADDR", func(v string) { cfg.Metrics.Addr = v }},
		{"WATCH_DEBOUNCE", func(v string) { cfg.Watch.Debounce = v }},
	}
	for _, o := range overrides {
		if v := os.Getenv(EnvPrefix + o.name); v != "" {
			o.set(v)
		}
	}
}
