// This file contains build information and initialization logic.
// It sets up variables for versioning, commit hash, build time, start time, and test mode.
// Values are injected with `-ldflags "-X github.com/nobletooth/artcache/pkg/utils.Version=v1.2.3"`.

package utils

import (
	"log/slog"
	"strconv"
	"time"
)

// devVersion is reported when the binary was built without version ldflags. It is a valid semantic version so
// version comparisons (e.g. the journal app version) keep working in local builds.
const devVersion = "v0.0.0-dev"

var (
	TestMode   string // Should be true when running tests.
	IsTestMode bool
	Version    string
	Commit     string
	BuildTime  string
	StartTime  time.Time
)

func init() {
	StartTime = time.Now()

	// If build info is not set, make that clear.
	if Version == "" {
		Version = devVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	if len(TestMode) > 0 {
		if isTestMode, err := strconv.ParseBool(TestMode); err == nil {
			IsTestMode = isTestMode
		} else {
			slog.Warn("Failed to parse TestMode build flag, defaulting to false", "error", err)
		}
	}
}

// BuildAttrs returns the build information as slog attributes.
func BuildAttrs() []any {
	return []any{"version", Version, "commit", Commit, "build", BuildTime, "uptime", time.Since(StartTime).String()}
}
