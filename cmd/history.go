package cmd

import (
	"fmt"
	"sort"

	"shardrun/internal/config"
	"shardrun/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyPhase string

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the recorded per-scope timing history",
	Long: `The history command renders the weight-history cache that planning
uses to balance shards: for every (phase, scope) pair the blended average
duration, the sample count, and the most recent observation.

Example usage:
  shardrun history
  shardrun history --phase=unit`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyPhase, "phase", "", "Only show one phase (unit, ui, integration, e2e)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return err
	}

	hist := store.NewFileHistoryStore(historyPath(cfg), store.BlendMode(cfg.History.Blend), cfg.History.Decay)
	history, err := hist.Load()
	if err != nil {
		return fmt.Errorf("failed to load weight history: %w", err)
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Phase", "Scope", "Avg", "Samples", "Last"})

	rows := 0
	for _, phase := range config.AllPhases() {
		if historyPhase != "" && string(phase) != historyPhase {
			continue
		}
		scopes := history[phase]
		ids := make([]string, 0, len(scopes))
		for id := range scopes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			timing := scopes[id]
			t.AppendRow(table.Row{
				string(phase), id,
				fmt.Sprintf("%.1fs", timing.AvgSecs),
				timing.Count,
				fmt.Sprintf("%.1fs", timing.LastSecs),
			})
			rows++
		}
	}

	if rows == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No timing history recorded yet.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}
