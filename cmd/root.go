package cmd

import (
	"errors"
	"fmt"
	"os"

	"shardrun/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands. A failed session propagates the engine's
// return code so CI systems can distinguish failure classes.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// SessionFailedError carries a finished session's non-zero return code up to
// the process exit status.
type SessionFailedError struct {
	SessionID  string
	ReturnCode int
}

func (e *SessionFailedError) Error() string {
	return fmt.Sprintf("session %s failed with return code %d", e.SessionID, e.ReturnCode)
}

var (
	rootConfigPath string
	rootVerbose    bool
	rootDebug      bool
)

// rootCmd represents the base command for the shardrun application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shardrun",
	Short: "Plan and run balanced test shards against isolated databases",
	Long: `shardrun discovers the test scopes of an application source tree,
partitions them into balanced shards under a database-connection budget,
runs each shard through the external test engine against its own cloned
database and filestore, and merges the partial results into one report.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if rootVerbose {
			level = logging.LevelInfo
		}
		if rootDebug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to shardrun.yaml (default: ./shardrun.yaml)")
	rootCmd.PersistentFlags().BoolVar(&rootVerbose, "verbose", false, "Enable informational logging")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "shardrun version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps handled error types onto semantic exit codes.
func getExitCode(err error) int {
	var failed *SessionFailedError
	if errors.As(err, &failed) && failed.ReturnCode != 0 {
		return failed.ReturnCode
	}
	return ExitCodeError
}
