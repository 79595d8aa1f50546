package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns the version with its leading "v".
func Short() string {
	return "v" + Version
}

// Full returns a human-readable version string with platform, commit and build time.
func Full() string {
	return fmt.Sprintf("corekeeper %s (%s/%s), commit: %s, built at: %s",
		Short(), runtime.GOOS, runtime.GOARCH, Commit, BuildTime)
}

// UserAgent is sent with every outgoing HTTP request.
func UserAgent() string {
	return "corekeeper/" + Version
}
