package version

import "fmt"

var (
	CLIName    = "lazytrader"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}

// UserAgent is sent on every setup API request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", CLIName, CLIVersion)
}
