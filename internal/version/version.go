// Package version contains build version information.
package version

// Version, GitCommit and BuildDate are overridden at build time with
// -ldflags "-X github.com/bissquit/newsletter/internal/version.Version=...".
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
