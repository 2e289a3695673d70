// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package version carries build metadata injected via -ldflags.
package version

import "fmt"

var (
	// Version is the release tag, or the fallback for untagged builds.
	Version = "v0.3.0"

	// Commit is the git short hash of the build.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full build identity for the -version flag and logs.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
