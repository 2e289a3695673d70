// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// appDirName is the subdirectory holding the library documents.
const appDirName = "lab-controller"

// ResolveDataDir resolves the library data directory: an explicit
// configured dir wins, then XDG_DATA_HOME, then ~/.local/share. The
// lab-controller subdirectory is appended unless the dir was explicit.
func ResolveDataDir(explicit string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); v != "" {
		return filepath.Join(v, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", appDirName), nil
}
