package config

import (
	"io"
	"log/slog"
	"strings"
)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevels = map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}

// NormalizeLogLevel case-folds raw. Empty input yields info; unknown input is
// returned lower-cased so Validate can report it.
func NormalizeLogLevel(raw string) LogLevel {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return LogLevelInfo
	}
	if l, ok := logLevels[key]; ok {
		return l
	}
	return LogLevel(key)
}

// Valid reports whether l is one of the canonical levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Slog maps l onto a slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NormalizeLogFormat case-folds raw. Empty input yields text.
func NormalizeLogFormat(raw string) LogFormat {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return LogFormatText
	}
	return LogFormat(key)
}

// Valid reports whether f is a supported format.
func (f LogFormat) Valid() bool {
	return f == LogFormatJSON || f == LogFormatText
}

// NewLogger builds a logger writing to w in the configured format.
// verbose forces debug level.
func (c LoggingConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := c.Level.Slog()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
