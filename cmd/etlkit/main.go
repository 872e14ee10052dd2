package main

import (
	"os"

	"github.com/ben-leadtech/etlkit/cmd/etlkit/commands"
)

// Set by the release build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are already printed by the commands.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
