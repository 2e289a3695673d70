// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/labctl/internal/log"
)

// ParseString reads a string environment variable or returns the default.
// The source (environment or default) is logged for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("config value")
		return v
	}
	logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").Msg("config value")
	return defaultValue
}

// ParseInt reads an integer environment variable, falling back to the
// default on absence or parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("config value")
			return i
		}
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean environment variable, falling back to the
// default on absence or parse errors.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			logger.Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("config value")
			return b
		}
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration environment variable, falling back to the
// default on absence or parse errors.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("config value")
			return d
		}
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return defaultValue
}
