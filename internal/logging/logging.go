// Package logging builds the zap loggers used across membank.
//
// Log output defaults to JSON for the daemon and console for one-shot CLI
// commands. Owner identifiers are hashed before logging so operator logs
// never carry raw end-user ids.
package logging

import (
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Validate checks the config fields.
func (c *Config) Validate() error {
	switch c.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	if _, err := zapcore.ParseLevel(levelOrDefault(c.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// New constructs a zap logger from config.
func New(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := zapcore.ParseLevel(levelOrDefault(cfg.Level))

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// Owner returns a zap field carrying a stable hash of an owner id.
// Raw owner ids are considered user data and are kept out of logs.
func Owner(id string) zap.Field {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return zap.String("owner_hash", fmt.Sprintf("%08x", h.Sum32()))
}
