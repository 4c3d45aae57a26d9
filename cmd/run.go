package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
	"shardrun/internal/environ"
	"shardrun/internal/plan"
	"shardrun/internal/report"
	"shardrun/internal/session"
	"shardrun/internal/store"

	"github.com/spf13/cobra"
)

var (
	runPhases        []string
	runOverlap       bool
	runKeepGoing     bool
	runShardCounts   = map[config.Phase]*int{}
	runWorkers       int
	runDBURL         string
	runCostPerShard  int
	runReserve       int
	runTemplateReuse bool
	runTemplateTTL   time.Duration
	runSkipFilestore bool
	runRoot          string
	runOut           string
	runRetain        int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full test session",
	Long: `The run command executes a complete test session: it discovers the
scopes of every requested phase, plans balanced shards under the server's
connection budget, clones an isolated database and filestore per shard,
drives the test engine over all shards through a bounded worker pool, and
writes the merged session report.

Phases run sequentially (unit, ui, integration, e2e) unless --overlap is
given, in which case {unit, ui} and then {integration, e2e} run as
concurrent groups. A failing phase skips everything after it unless
--keep-going is set.

Example usage:
  shardrun run                                # all four phases
  shardrun run --phases=unit,ui               # a subset
  shardrun run --shards-unit=8 --workers=4    # fixed shard count
  shardrun run --overlap --keep-going         # fastest full run
  shardrun run --template-reuse --template-ttl=6h

The process exit code is 0 on success, otherwise the first failing phase's
return code.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runPhases, "phases", nil, "Phases to run (unit, ui, integration, e2e; default: all)")
	runCmd.Flags().BoolVar(&runOverlap, "overlap", false, "Run {unit,ui} and {integration,e2e} as concurrent groups")
	runCmd.Flags().BoolVar(&runKeepGoing, "keep-going", false, "Run later phases even after a failure")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker-pool size (0 = derive from CPU count)")

	for _, p := range config.AllPhases() {
		n := new(int)
		runShardCounts[p] = n
		runCmd.Flags().IntVar(n, "shards-"+string(p), 0, fmt.Sprintf("Shard count for the %s phase (0 = auto)", p))
	}

	runCmd.Flags().StringVar(&runDBURL, "db-url", "", "Admin connection URL for the shared database server")
	runCmd.Flags().IntVar(&runCostPerShard, "cost-per-shard", config.DefaultCostPerShard, "Connections one shard is expected to hold")
	runCmd.Flags().IntVar(&runReserve, "reserve", config.DefaultReserve, "Connections kept free for everything else")

	runCmd.Flags().BoolVar(&runTemplateReuse, "template-reuse", false, "Reuse a prior template database within its TTL")
	runCmd.Flags().DurationVar(&runTemplateTTL, "template-ttl", 6*time.Hour, "How long a reusable template stays valid")
	runCmd.Flags().BoolVar(&runSkipFilestore, "skip-filestore", false, "Skip filestore snapshots entirely")

	runCmd.Flags().StringVar(&runRoot, "root", "", "Source tree containing the addressable scopes")
	runCmd.Flags().StringVar(&runOut, "out", "", "Session artifact directory")
	runCmd.Flags().IntVar(&runRetain, "retain", config.DefaultRetain, "Finished session directories to keep")

	runCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		_, err := parsePhases(runPhases)
		return err
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupts gracefully: cancellation stops new shards from
	// launching and the deferred cleanup still drops everything created.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Fprintln(cmd.ErrOrStderr(), "\nReceived interrupt signal, stopping session...")
		cancel()
	}()

	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("a database server is required: set --db-url, SHARDRUN_DB_URL, or database.url")
	}

	phases, err := parsePhases(runPhases)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	pool, err := environ.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	env := environ.NewManager(pool, cfg.Database, cfg.Filestore, cfg.Template)
	guardrail := plan.NewGuardrail(environ.NewPGCapacityProbe(pool), cfg.Database.CostPerShard, cfg.Database.Reserve)
	hist := store.NewFileHistoryStore(historyPath(cfg), store.BlendMode(cfg.History.Blend), cfg.History.Decay)
	pointers := store.NewFilePointerStore(filepath.Join(cfg.OutputDir, "pointers.json"))
	runner := adapter.NewRunner(cfg.Engine)

	orch := session.New(cfg, runner, env, guardrail, hist, pointers)
	res, err := orch.Run(ctx, phases)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.RenderIndex(res.Summary))
	fmt.Fprintf(cmd.OutOrStdout(), "Artifacts: %s\n", res.Dir)

	if !res.Summary.Success {
		return &SessionFailedError{SessionID: res.SessionID, ReturnCode: res.Summary.ReturnCode}
	}
	return nil
}

// applyRunFlags layers explicitly-set command line flags over the loaded
// configuration. Unset flags never clobber file or environment values.
func applyRunFlags(cmd *cobra.Command, cfg *config.ShardrunConfig) {
	flags := cmd.Flags()
	if flags.Changed("overlap") {
		cfg.Session.Overlap = runOverlap
	}
	if flags.Changed("keep-going") {
		cfg.Session.KeepGoing = runKeepGoing
	}
	if flags.Changed("workers") {
		cfg.Session.Workers = runWorkers
	}
	if flags.Changed("db-url") {
		cfg.Database.URL = runDBURL
	}
	if flags.Changed("cost-per-shard") {
		cfg.Database.CostPerShard = runCostPerShard
	}
	if flags.Changed("reserve") {
		cfg.Database.Reserve = runReserve
	}
	if flags.Changed("template-reuse") {
		cfg.Template.Reuse = runTemplateReuse
	}
	if flags.Changed("template-ttl") {
		cfg.Template.TTL = runTemplateTTL
	}
	if flags.Changed("skip-filestore") {
		cfg.Filestore.Skip = runSkipFilestore
	}
	if flags.Changed("root") {
		cfg.Root = runRoot
	}
	if flags.Changed("out") {
		cfg.OutputDir = runOut
	}
	if flags.Changed("retain") {
		cfg.Session.Retain = runRetain
	}
	for _, p := range config.AllPhases() {
		if flags.Changed("shards-" + string(p)) {
			pc := cfg.Phases[p]
			pc.Shards = *runShardCounts[p]
			cfg.Phases[p] = pc
		}
	}
}

// parsePhases validates the --phases values and maps them onto phase ids in
// declared execution order.
func parsePhases(names []string) ([]config.Phase, error) {
	if len(names) == 0 {
		return nil, nil
	}
	requested := make(map[config.Phase]bool, len(names))
	for _, name := range names {
		p := config.Phase(strings.ToLower(strings.TrimSpace(name)))
		switch p {
		case config.PhaseUnit, config.PhaseUI, config.PhaseIntegration, config.PhaseE2E:
			requested[p] = true
		default:
			return nil, fmt.Errorf("unknown phase %q (expected unit, ui, integration, or e2e)", name)
		}
	}
	var phases []config.Phase
	for _, p := range config.AllPhases() {
		if requested[p] {
			phases = append(phases, p)
		}
	}
	return phases, nil
}

// historyPath anchors a relative weight-history path under the output
// directory so all session state lives in one place.
func historyPath(cfg config.ShardrunConfig) string {
	if filepath.IsAbs(cfg.History.Path) {
		return cfg.History.Path
	}
	return filepath.Join(cfg.OutputDir, cfg.History.Path)
}
