// Package cli implements the Keymaster command-line interface.
//
// Global state (config, logger, formatter, engine) is initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/macterra/keymaster/internal/config"
	"github.com/macterra/keymaster/internal/gatekeeper"
	"github.com/macterra/keymaster/internal/keymaster"
	"github.com/macterra/keymaster/internal/output"
	"github.com/macterra/keymaster/internal/version"
	"github.com/macterra/keymaster/internal/wallet"
	kmerr "github.com/macterra/keymaster/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	engine    *keymaster.Keymaster

	// buildInfo is injected from main.
	buildInfo version.Info
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "keymaster",
	Short: "A self-sovereign identity wallet and credential engine",
	Long: `Keymaster manages decentralized identifiers (DIDs) derived from a single
recovery phrase. It encrypts messages between DIDs, and issues, attests,
and verifies signed credentials bound to challenge-response presentations.

Example:
  keymaster create-id Alice
  keymaster encrypt "Hi Bob!" did:mdip:...
  keymaster resolve-did did:mdip:...`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initGlobals(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command with build info from main.
func Execute(info version.Info) error {
	buildInfo = info

	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	return kmerr.ExitCode(err)
}

// initGlobals resolves configuration and wires the engine.
func initGlobals(cmd *cobra.Command) error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	loaded, err := config.LoadOrDefaults(home)
	if err != nil {
		return kmerr.Wrap(err, "loading configuration")
	}
	cfg = loaded

	if outputFormat != "" {
		cfg.Output.DefaultFormat = outputFormat
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err = config.NewLogger(
		config.ParseLogLevel(cfg.Logging.Level),
		logFilePath(cfg),
	)
	if err != nil {
		return kmerr.Wrap(err, "initializing logger")
	}

	format := output.DetectFormat(cmd.OutOrStdout(), output.Format(cfg.Output.DefaultFormat))
	formatter = output.NewFormatter(format, cmd.OutOrStdout())

	engine = keymaster.New(
		wallet.NewFileStore(cfg.Home),
		newRegistry(cfg),
		&keymaster.Options{
			Registry: cfg.Gatekeeper.Registry,
			Logger:   logger,
		},
	)

	return nil
}

// newRegistry selects the registry backend: the HTTP gatekeeper when a URL
// is configured, otherwise an in-process registry (ephemeral, useful for
// demos and tests).
func newRegistry(cfg *config.Config) gatekeeper.Registry {
	if cfg.Gatekeeper.URL == "" {
		return gatekeeper.NewMemory()
	}
	return gatekeeper.NewClient(cfg.Gatekeeper.URL, &gatekeeper.ClientOptions{
		Timeout:       time.Duration(cfg.Gatekeeper.TimeoutSeconds) * time.Second,
		RatePerSecond: cfg.Gatekeeper.RatePerSecond,
		Burst:         cfg.Gatekeeper.Burst,
	})
}

// logFilePath places the log file under the home directory unless the
// configured path is absolute or starts with '~'.
func logFilePath(cfg *config.Config) string {
	if cfg.Logging.File == "" {
		return ""
	}
	if cfg.Logging.File[0] == '/' || cfg.Logging.File[0] == '~' {
		return cfg.Logging.File
	}
	return cfg.Home + "/" + cfg.Logging.File
}

// printError renders an error with its suggestion, if any.
func printError(err error) {
	var ke *kmerr.KeymasterError
	if kmerr.As(err, &ke) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ke.Error())
		if ke.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", ke.Suggestion)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// cleanup releases global resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

//nolint:gochecknoinits // Cobra command registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "keymaster home directory (default ~/.keymaster)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, or auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
