package version

import (
	"fmt"
	"runtime"
)

// Name is the binary name reported in version strings.
const Name = "edgeprof"

// Build-time variables injected via ldflags.
var (
	Release   = "dev"
	GitCommit = "unknown"
)

// Full returns the version string in the format "edgeprof release (commit)".
func Full() string {
	return fmt.Sprintf("%s %s (commit: %s)", Name, Release, GitCommit)
}

// FullWithPlatform returns the version string with the platform the
// binary was built for.
func FullWithPlatform() string {
	return fmt.Sprintf("%s %s (commit: %s, %s/%s)",
		Name, Release, GitCommit, runtime.GOOS, runtime.GOARCH)
}
