// Package version holds the tomato client's build identity, reported by
// -v/--version (§6) and sent as part of every request's User-Agent header.
package version

var (
	// Version is overwritten by the build system via -ldflags; this value
	// is only seen in a locally-built binary.
	Version = "v0.1.0-dev"

	// Commit is the git short hash of the build, set via -ldflags.
	Commit = "unknown"

	// Date is the build timestamp, set via -ldflags.
	Date = "unknown"
)
