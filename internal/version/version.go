// Package version holds build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/gazeselect/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version and the startup log line.
func String() string {
	return fmt.Sprintf("gazeselect %s (%s, built %s)", Version, GitSHA, BuildTime)
}
