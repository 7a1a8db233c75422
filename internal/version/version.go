package version

import "fmt"

// Build metadata, set with -ldflags "-X nodesentinel/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("nodesentinel %s (commit %s, built %s)", Version, Commit, BuildDate)
}
