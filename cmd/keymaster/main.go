// Package main is the entry point for the Keymaster CLI.
package main

import (
	"os"

	"github.com/macterra/keymaster/internal/cli"
	"github.com/macterra/keymaster/internal/version"
)

// Build info variables set via ldflags during build.
//
//nolint:gochecknoglobals // Required for ldflags injection at build time
var (
	buildVersion = "dev"
	commit       = "unknown"
	buildDate    = "unknown"
)

func main() {
	if err := cli.Execute(version.Info{
		Version: buildVersion,
		Commit:  commit,
		Date:    buildDate,
	}); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
