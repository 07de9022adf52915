// Package logger configures the structured application logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity of the log message.
type Level int

const (
	// LevelDebug is for debug-level messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Config holds configuration for the logger.
type Config struct {
	Level       Level     // Log level
	AppName     string    // Application name
	Environment string    // Environment (development, staging, production)
	Output      io.Writer // Output destination, stderr when nil
}

// ParseLevel parses a string into a Level (defaults to LevelInfo).
func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoadConfig reads LOG_LEVEL, APP_NAME and ENV from the environment.
func LoadConfig() Config {
	return Config{
		Level:       ParseLevel(getEnv("LOG_LEVEL", "info")),
		AppName:     getEnv("APP_NAME", "gamedl"),
		Environment: getEnv("ENV", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func slogLevel(lvl Level) slog.Level {
	switch lvl {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a JSON logger tagged with the app and environment names.
func New(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: slogLevel(cfg.Level)})
	log := slog.New(handler)
	if cfg.AppName != "" {
		log = log.With("app", cfg.AppName)
	}
	if cfg.Environment != "" {
		log = log.With("env", cfg.Environment)
	}
	return log
}
