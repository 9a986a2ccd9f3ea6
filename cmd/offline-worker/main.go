// Command offline-worker runs the offline worker in front of an origin.
package main

import (
	"os"
)

// set at build time with -ldflags "-X main.version=<version>"
var version string

func main() {
	version = buildVersion(version)
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildVersion is the version reported by --version and in the logs.
func buildVersion(linked string) string {
	if linked == "" {
		return "DEV"
	}
	return linked
}
