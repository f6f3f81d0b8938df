// Package version holds the build identity of the scanner.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Populated via ldflags by the release build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// devReportVersion is stamped on reports from unreleased builds.
const devReportVersion = "0.0.0-dev"

// GetVersion returns the raw version string, "dev" for local builds.
func GetVersion() string {
	return Version
}

// GetFullVersion returns version with build information.
// Format: "v1.0.0 (commit: abc123, built: 2026-01-02T03:04:05Z)"
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}

// ScannerVersion returns the version recorded in reports: a bare semantic
// version without the "v" prefix. Non-semver builds report "0.0.0-dev".
func ScannerVersion() string {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return devReportVersion
	}
	return v.String()
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return "mpak-scanner/" + ScannerVersion()
}
