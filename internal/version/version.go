// Package version carries build metadata stamped in with -ldflags.
package version

import "runtime"

// Set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line printed by `voiceqa version`.
func String() string {
	return "voiceqa " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
