// netmapper is the network discovery daemon and its client CLI.
package main

import "github.com/netmapper/netmapper/cmd/cli"

// Build information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
