// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads daemon configuration with the precedence
// environment > config file > defaults. Environment keys use the LABCTL_
// prefix.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/labctl/internal/device/scpi"
)

// Config is the resolved daemon configuration.
type Config struct {
	// Listen is the HTTP/WebSocket bind address.
	Listen string `yaml:"listen"`
	// DataDir holds the library documents. Empty selects the platform
	// default (see ResolveDataDir).
	DataDir string `yaml:"dataDir"`
	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"logLevel"`

	// PollInterval is the measurement poll period per device.
	PollInterval time.Duration `yaml:"pollInterval"`
	// CommandTimeout bounds one instrument exchange.
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	// HistoryWindow bounds the per-device measurement history.
	HistoryWindow time.Duration `yaml:"historyWindow"`

	// BusWatermark is the per-client queue depth before measurement
	// shedding starts.
	BusWatermark int `yaml:"busWatermark"`

	// RateLimitRPS throttles HTTP requests per client IP. 0 disables.
	RateLimitRPS int `yaml:"rateLimitRps"`

	// Devices lists SCPI endpoints. Empty enables the simulated bench.
	Devices []DeviceConfig `yaml:"devices"`

	// WatchLibraries reloads the library documents on external edits.
	WatchLibraries bool `yaml:"watchLibraries"`

	// OTLPEndpoint enables trace export when set (host:port of an
	// OTLP/HTTP collector).
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// DeviceConfig is one configured SCPI instrument.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Addr    string `yaml:"addr"`
	Profile string `yaml:"profile"` // power-supply | electronic-load
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Listen:         ":8089",
		LogLevel:       "info",
		PollInterval:   250 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
		HistoryWindow:  2 * time.Minute,
		BusWatermark:   256,
		RateLimitRPS:   50,
		WatchLibraries: true,
	}
}

// Load resolves the configuration: defaults, then the YAML file at path
// (optional), then LABCTL_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Listen = ParseString("LABCTL_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("LABCTL_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString("LABCTL_LOG_LEVEL", cfg.LogLevel)
	cfg.PollInterval = ParseDuration("LABCTL_POLL_INTERVAL", cfg.PollInterval)
	cfg.CommandTimeout = ParseDuration("LABCTL_COMMAND_TIMEOUT", cfg.CommandTimeout)
	cfg.HistoryWindow = ParseDuration("LABCTL_HISTORY_WINDOW", cfg.HistoryWindow)
	cfg.BusWatermark = ParseInt("LABCTL_BUS_WATERMARK", cfg.BusWatermark)
	cfg.RateLimitRPS = ParseInt("LABCTL_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.WatchLibraries = ParseBool("LABCTL_WATCH_LIBRARIES", cfg.WatchLibraries)
	cfg.OTLPEndpoint = ParseString("LABCTL_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("commandTimeout must be positive, got %s", c.CommandTimeout)
	}
	if c.BusWatermark < 1 {
		return fmt.Errorf("busWatermark must be >= 1, got %d", c.BusWatermark)
	}
	for i, d := range c.Devices {
		if d.ID == "" || d.Addr == "" {
			return fmt.Errorf("device %d: id and addr are required", i)
		}
		if _, err := profileFor(d.Profile); err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
	}
	return nil
}

// Endpoints maps the configured devices to SCPI endpoints.
func (c Config) Endpoints() []scpi.Endpoint {
	out := make([]scpi.Endpoint, 0, len(c.Devices))
	for _, d := range c.Devices {
		p, err := profileFor(d.Profile)
		if err != nil {
			continue // Validate rejected these already
		}
		out = append(out, scpi.Endpoint{ID: d.ID, Addr: d.Addr, Profile: p})
	}
	return out
}

func profileFor(name string) (scpi.Profile, error) {
	switch name {
	case "power-supply":
		return scpi.PowerSupplyProfile(), nil
	case "electronic-load":
		return scpi.ElectronicLoadProfile(), nil
	default:
		return scpi.Profile{}, fmt.Errorf("unknown device profile %q", name)
	}
}
