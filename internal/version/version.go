package version

import "fmt"

// Overridden at build time with -ldflags "-X".
var (
	CLIName    = "peasy"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", CLIVersion, Commit, BuildDate)
}

// UserAgent is sent on every provider request.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}
