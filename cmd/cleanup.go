package cmd

import (
	"fmt"

	"shardrun/internal/config"
	"shardrun/internal/environ"

	"github.com/spf13/cobra"
)

var cleanupPrefix string

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Drop orphaned session databases and filestore clones",
	Long: `The cleanup command sweeps the shared database server and the
filestore work directory for leftovers of aborted sessions: every database
and directory whose name starts with the session prefix is terminated and
dropped.

Sessions clean up after themselves; this command exists for the cases where
a run was killed hard enough that its deferred cleanup never ran.

Example usage:
  shardrun cleanup
  shardrun cleanup --prefix=shardrun_ab12cd34`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().StringVar(&cleanupPrefix, "prefix", "shardrun_", "Name prefix of the databases and directories to drop")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("a database server is required: set SHARDRUN_DB_URL or database.url")
	}

	pool, err := environ.NewPool(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	env := environ.NewManager(pool, cfg.Database, cfg.Filestore, cfg.Template)
	env.CleanupSession(cmd.Context(), cleanupPrefix)

	fmt.Fprintf(cmd.OutOrStdout(), "Swept databases and filestore clones matching %q.\n", cleanupPrefix)
	return nil
}
