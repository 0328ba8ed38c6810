// Package version carries build metadata stamped in via -ldflags, e.g.
//
//	go build -ldflags "-X examprep/internal/version.Version=v1.2.0"
package version

// Version is the release tag, "dev" for local builds.
var Version = "dev"

// Commit is the git commit the binary was built from.
var Commit = "dev"

// BuildTime is the UTC timestamp of the build.
var BuildTime = "unknown"
