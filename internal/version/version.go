package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	Version   = "0.1.0"
	BuildTime = "development"
	GitCommit = "unknown"
)

func String() string {
	return fmt.Sprintf("v%s", Version)
}

// UserAgent identifies fleetctl requests to the console.
func UserAgent() string {
	return fmt.Sprintf("fleetctl/%s (%s)", Version, GitCommit)
}

func Get() map[string]string {
	return map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	}
}
