// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/overhang/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// StorageFormat is the version of the saved page layout. Bump it
// whenever a region, fragment, or page block changes shape.
const StorageFormat uint16 = 1

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Storage format: %d",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, StorageFormat)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Print writes "binary version" with Full detail to stdout, for
// --version handling.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Full())
}
