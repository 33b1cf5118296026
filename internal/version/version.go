// Package version holds build version information, set by ldflags during build:
//
//	go build -ldflags "-X github.com/cryptdrive/cdrive/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Version is the build version string. Format: vX.Y.Z or vX.Y.Z-dev.
var Version = "v0.4.0-dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"

// String returns the version line printed by the version command.
func String() string {
	return fmt.Sprintf("cdrive %s (built %s, %s %s/%s)", Version, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
