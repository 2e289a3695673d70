// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8089", cfg.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 2*time.Minute, cfg.HistoryWindow)
	assert.Equal(t, 256, cfg.BusWatermark)
	assert.True(t, cfg.WatchLibraries)
	assert.Empty(t, cfg.Devices)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
listen: ":9000"
logLevel: debug
pollInterval: 500ms
devices:
  - id: psu-1
    addr: "10.0.0.5:5025"
    profile: power-supply
  - id: load-1
    addr: "10.0.0.6:5025"
    profile: electronic-load
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	require.Len(t, cfg.Devices, 2)

	endpoints := cfg.Endpoints()
	require.Len(t, endpoints, 2)
	assert.Equal(t, "psu-1", endpoints[0].ID)
	assert.Equal(t, "10.0.0.5:5025", endpoints[0].Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen: ":9000"`), 0o644))

	t.Setenv("LABCTL_LISTEN", ":7777")
	t.Setenv("LABCTL_POLL_INTERVAL", "1s")
	t.Setenv("LABCTL_WATCH_LIBRARIES", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.False(t, cfg.WatchLibraries)
}

func TestLoadRejectsBadDeviceProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
devices:
  - id: x-1
    addr: "10.0.0.5:5025"
    profile: toaster
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device profile")
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Listen = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.BusWatermark = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Devices = []DeviceConfig{{ID: "", Addr: "x"}}
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("LABCTL_TEST_STR", "hello")
	assert.Equal(t, "hello", ParseString("LABCTL_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", ParseString("LABCTL_TEST_MISSING", "fallback"))

	t.Setenv("LABCTL_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("LABCTL_TEST_INT", 7))
	t.Setenv("LABCTL_TEST_INT", "nope")
	assert.Equal(t, 7, ParseInt("LABCTL_TEST_INT", 7))

	t.Setenv("LABCTL_TEST_BOOL", "true")
	assert.True(t, ParseBool("LABCTL_TEST_BOOL", false))

	t.Setenv("LABCTL_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, ParseDuration("LABCTL_TEST_DUR", time.Second))
	t.Setenv("LABCTL_TEST_DUR", "bogus")
	assert.Equal(t, time.Second, ParseDuration("LABCTL_TEST_DUR", time.Second))
}

func TestResolveDataDirExplicit(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveDataDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestResolveDataDirXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_DATA_HOME", base)
	got, err := ResolveDataDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "lab-controller"), got)
}
