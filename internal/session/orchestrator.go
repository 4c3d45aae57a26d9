package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
	"shardrun/internal/events"
	"shardrun/internal/plan"
	"shardrun/internal/report"
	"shardrun/internal/scope"
	"shardrun/internal/store"
	"shardrun/pkg/logging"

	"github.com/google/uuid"
)

// Orchestrator wires the planning, environment, and execution components into
// the session state machine.
type Orchestrator struct {
	cfg       config.ShardrunConfig
	runner    ShardRunner
	env       Environment
	guardrail *plan.Guardrail
	hist      store.WeightHistoryStore
	pointers  store.SessionPointerStore

	newID func() string
}

// New creates a session orchestrator.
func New(cfg config.ShardrunConfig, runner ShardRunner, env Environment, guardrail *plan.Guardrail, hist store.WeightHistoryStore, pointers store.SessionPointerStore) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		env:       env,
		guardrail: guardrail,
		hist:      hist,
		pointers:  pointers,
		newID:     func() string { return strings.SplitN(uuid.New().String(), "-", 2)[0] },
	}
}

// sessionRun holds the per-session state shared between phases.
type sessionRun struct {
	o           *Orchestrator
	id          string
	rootName    string // naming prefix for every database and filestore dir
	dir         string
	history     store.History
	evlog       *events.Log
	getTemplate func(ctx context.Context) (string, error)
}

// phaseResult is one phase's contribution to the session summary.
type phaseResult struct {
	outcome    report.PhaseOutcome
	shards     []adapter.ShardSummary
	discovered int
	executed   int
}

// Run executes a full session over the given phases (all four when empty) and
// returns the finalized result. Test failures surface in the summary, not as
// errors; an error here means the session itself could not be carried out.
func (o *Orchestrator) Run(ctx context.Context, phases []config.Phase) (Result, error) {
	if len(phases) == 0 {
		phases = config.AllPhases()
	}

	r := &sessionRun{o: o, id: o.newID()}
	r.rootName = "shardrun_" + r.id
	r.dir = filepath.Join(o.cfg.OutputDir, r.id)
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create session directory: %w", err)
	}

	evlog, err := events.Open(filepath.Join(r.dir, "events.ndjson"))
	if err != nil {
		logging.Warn("orchestrator", "Event log unavailable, continuing without: %v", err)
	}
	r.evlog = evlog

	started := time.Now()
	logging.Info("orchestrator", "Session %s started (phases: %v)", r.id, phases)
	r.evlog.Emit(events.SessionStarted, map[string]interface{}{
		"session": r.id, "phases": phaseNames(phases),
	})

	if err := o.pointers.SetCurrent(r.id); err != nil {
		logging.Warn("orchestrator", "Could not record current session pointer: %v", err)
	}

	// Template cloning is the slowest part of session startup, so it runs in
	// the background while the first phase discovers and plans.
	type templateResult struct {
		id  string
		err error
	}
	tmplCh := make(chan templateResult, 1)
	go func() {
		id, err := o.env.EnsureTemplate(ctx, r.id)
		if err == nil {
			r.evlog.Emit(events.TemplateReady, map[string]interface{}{"template": id})
		}
		tmplCh <- templateResult{id: id, err: err}
	}()
	var tmplOnce sync.Once
	var tmpl templateResult
	r.getTemplate = func(ctx context.Context) (string, error) {
		tmplOnce.Do(func() { tmpl = <-tmplCh })
		return tmpl.id, tmpl.err
	}

	// Databases and filestore clones are dropped no matter how the session
	// ends. A fresh context keeps cleanup working after cancellation.
	defer func() {
		cleanupCtx := context.Background()
		if id, err := r.getTemplate(cleanupCtx); err == nil {
			o.env.DropTemplate(cleanupCtx, id)
		}
		o.env.CleanupSession(cleanupCtx, r.rootName)
		r.evlog.Emit(events.CleanupDone, map[string]interface{}{"session": r.id})
		r.evlog.Close()
	}()

	if r.history, err = o.hist.Load(); err != nil {
		logging.Warn("orchestrator", "Weight history unavailable, static weights only: %v", err)
		r.history = nil
	}

	states := make(map[config.Phase]PhaseState, len(phases))
	for _, p := range phases {
		states[p] = StatePending
	}

	var (
		outcomes  []report.PhaseOutcome
		allShards []adapter.ShardSummary
		coverage  report.Coverage
		failed    bool
	)

	for _, group := range o.phaseGroups(phases) {
		if failed && !o.cfg.Session.KeepGoing {
			for _, p := range group {
				states[p] = StateSkipped
				outcomes = append(outcomes, report.PhaseOutcome{Phase: p})
				logging.Info("orchestrator", "Phase %s skipped after earlier failure", p)
			}
			continue
		}

		results := make([]phaseResult, len(group))
		var wg sync.WaitGroup
		errs := make([]error, len(group))
		for i, p := range group {
			states[p] = StateRunning
			wg.Add(1)
			go func(i int, p config.Phase) {
				defer wg.Done()
				results[i], errs[i] = r.runPhase(ctx, p)
			}(i, p)
		}
		wg.Wait()

		for i, p := range group {
			if errs[i] != nil {
				return Result{}, fmt.Errorf("phase %s failed to run: %w", p, errs[i])
			}
			res := results[i]
			outcomes = append(outcomes, res.outcome)
			allShards = append(allShards, res.shards...)
			coverage.SourceScopes += res.discovered
			coverage.ExecutedScopes += res.executed

			switch {
			case res.outcome.Skipped():
				states[p] = StateSkipped
			case *res.outcome.ReturnCode == 0:
				states[p] = StateOK
			default:
				states[p] = StateFailed
				failed = true
			}
		}
	}

	report.RecordTimings(o.hist, allShards)

	summary, err := report.Finalize(r.id, r.dir, started, outcomes, coverage)
	if err != nil {
		return Result{}, err
	}

	r.evlog.Emit(events.SessionFinished, map[string]interface{}{
		"session": r.id, "return_code": summary.ReturnCode, "success": summary.Success,
	})
	logging.Info("orchestrator", "Session %s finished: rc=%d run=%d failed=%d errored=%d skipped=%d",
		r.id, summary.ReturnCode, summary.Counters.Run, summary.Counters.Failed,
		summary.Counters.Errored, summary.Counters.Skipped)

	if err := o.pointers.PromoteLatest(r.id); err != nil {
		logging.Warn("orchestrator", "Could not promote session pointer: %v", err)
	}
	o.pruneSessions(r.id)

	return Result{SessionID: r.id, Dir: r.dir, Summary: summary, States: states}, nil
}

// runPhase takes one phase through discover, estimate, cap, plan, and the
// shard pool. Test failures land in the outcome; an error means the phase
// could not be attempted at all.
func (r *sessionRun) runPhase(ctx context.Context, phase config.Phase) (phaseResult, error) {
	o := r.o
	pc, ok := o.cfg.Phases[phase]
	if !ok {
		logging.Warn("orchestrator", "Phase %s has no configuration, skipping", phase)
		return phaseResult{outcome: report.PhaseOutcome{Phase: phase}}, nil
	}

	scopes, err := scope.Discover(o.cfg.Root, phase, pc)
	if err != nil {
		return phaseResult{}, err
	}
	if len(scopes) == 0 {
		logging.Info("orchestrator", "Phase %s has no scopes under %s", phase, o.cfg.Root)
		rc := 0
		agg := report.AggregatePhase(phase, nil)
		return phaseResult{outcome: report.PhaseOutcome{Phase: phase, ReturnCode: &rc, Aggregate: &agg}}, nil
	}

	est := scope.NewEstimator(r.history, o.cfg.History.BucketSecs)
	weights := est.EstimateWeights(scopes, phase, pc)

	items, requested := phaseItems(scopes, weights, pc)
	if requested <= 0 {
		requested = o.workerLimit()
	}
	capped := o.guardrail.CapShardCount(ctx, requested)
	pl := plan.Plan(items, capped)

	// Class-level sub-units can be too few to fill the requested shard count;
	// re-plan at test-method granularity when that yields more items.
	if pc.SubUnitShards > 0 && pl.ShardCount < capped {
		if finer := methodItems(scopes, weights); len(finer) > len(items) {
			logging.Info("orchestrator", "Phase %s: %d sub-units for %d shards, slicing at method level (%d items)",
				phase, len(items), capped, len(finer))
			pl = plan.Plan(finer, capped)
		}
	}

	templateID, err := r.getTemplate(ctx)
	if err != nil {
		return phaseResult{}, fmt.Errorf("template unavailable: %w", err)
	}

	logging.Info("orchestrator", "Phase %s: %d scopes, %d shards (%s, weight %d)",
		phase, len(scopes), pl.ShardCount, pl.Strategy, pl.TotalWeight)
	r.evlog.Emit(events.PhaseStart, map[string]interface{}{
		"phase": string(phase), "shards": pl.ShardCount,
		"strategy": pl.Strategy, "total_weight": pl.TotalWeight,
	})

	phaseStart := time.Now()
	shards := RunShards(ctx, o.workerLimit(), pl.Shards, func(ctx context.Context, idx int, shard plan.Shard) adapter.ShardSummary {
		return r.runShard(ctx, phase, pc, templateID, idx, shard)
	})

	agg := report.AggregatePhase(phase, shards)
	if err := report.WritePhaseArtifacts(r.dir, agg); err != nil {
		logging.Warn("orchestrator", "Could not write artifacts for phase %s: %v", phase, err)
	}

	rc := agg.ReturnCode
	r.evlog.Emit(events.PhaseFinished, map[string]interface{}{
		"phase": string(phase), "return_code": rc, "run": agg.Counters.Run, "failed": agg.Counters.Failed,
	})

	return phaseResult{
		outcome: report.PhaseOutcome{
			Phase:        phase,
			ReturnCode:   &rc,
			ArtifactsDir: r.dir,
			Aggregate:    &agg,
			DurationSecs: time.Since(phaseStart).Seconds(),
		},
		shards:     shards,
		discovered: len(scopes),
		executed:   executedScopes(shards),
	}, nil
}

// runShard clones the isolated environment for one shard and hands it to the
// execution adapter. Clone failures become a failed summary so siblings keep
// running.
func (r *sessionRun) runShard(ctx context.Context, phase config.Phase, pc config.PhaseConfig, templateID string, idx int, shard plan.Shard) adapter.ShardSummary {
	o := r.o
	dbName := fmt.Sprintf("%s_%s_%02d", r.rootName, phase, idx)
	r.evlog.Emit(events.ShardStarted, map[string]interface{}{
		"phase": string(phase), "shard": idx, "db": dbName, "weight": shard.Weight,
	})

	var summary adapter.ShardSummary
	if err := o.env.CloneForShard(ctx, templateID, dbName); err != nil {
		logging.Error("orchestrator", err, "Could not prepare environment for shard %s/%d", phase, idx)
		summary = adapter.ShardSummary{
			Phase:      phase,
			ShardIndex: idx,
			DBName:     dbName,
			ReturnCode: 1,
			Error:      fmt.Sprintf("environment setup failed: %v", err),
		}
	} else {
		tag := pc.Tag
		if tag == "" {
			tag = string(phase)
		}
		summary = o.runner.Run(ctx, adapter.Request{
			Phase:      phase,
			PhaseTag:   tag,
			Items:      shard.Items,
			ShardIndex: idx,
			DBName:     dbName,
			// Engine workers stay inside the per-shard connection budget the
			// guardrail accounted for.
			Workers:        maxInt(1, o.cfg.Database.CostPerShard-1),
			Timeout:        o.cfg.Engine.Timeout,
			OutputDir:      r.dir,
			StallThreshold: o.cfg.Engine.StallThreshold,
		})
	}

	r.evlog.Emit(events.ShardFinished, map[string]interface{}{
		"phase": string(phase), "shard": idx, "db": dbName,
		"return_code": summary.ReturnCode, "run": summary.Counters.Run,
	})
	return summary
}

// phaseGroups turns the requested phases into execution groups: one phase per
// group sequentially, or the {unit, ui} and {integration, e2e} pairs when
// overlap is on.
func (o *Orchestrator) phaseGroups(phases []config.Phase) [][]config.Phase {
	if !o.cfg.Session.Overlap {
		groups := make([][]config.Phase, 0, len(phases))
		for _, p := range phases {
			groups = append(groups, []config.Phase{p})
		}
		return groups
	}

	requested := make(map[config.Phase]bool, len(phases))
	for _, p := range phases {
		requested[p] = true
	}
	var groups [][]config.Phase
	for _, pair := range [][]config.Phase{
		{config.PhaseUnit, config.PhaseUI},
		{config.PhaseIntegration, config.PhaseE2E},
	} {
		var group []config.Phase
		for _, p := range pair {
			if requested[p] {
				group = append(group, p)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// workerLimit is the bounded-pool size: the configured worker count, or half
// the local CPUs when unset.
func (o *Orchestrator) workerLimit() int {
	if o.cfg.Session.Workers > 0 {
		return o.cfg.Session.Workers
	}
	return maxInt(1, runtime.NumCPU()/2)
}

// pruneSessions removes the oldest session directories beyond the retention
// count. Best-effort; the session outcome never depends on it.
func (o *Orchestrator) pruneSessions(current string) {
	retain := o.cfg.Session.Retain
	if retain <= 0 {
		return
	}
	entries, err := os.ReadDir(o.cfg.OutputDir)
	if err != nil {
		logging.Warn("orchestrator", "Could not list session directories: %v", err)
		return
	}

	type sessionDir struct {
		name string
		mod  time.Time
	}
	var dirs []sessionDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, sessionDir{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mod.After(dirs[j].mod) })

	for i := retain; i < len(dirs); i++ {
		if dirs[i].name == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(o.cfg.OutputDir, dirs[i].name)); err != nil {
			logging.Warn("orchestrator", "Could not prune session %s: %v", dirs[i].name, err)
		} else {
			logging.Debug("orchestrator", "Pruned session %s", dirs[i].name)
		}
	}
}

// phaseItems selects the planning granularity: (scope, sub-unit) items when
// within-scope sharding is configured and sub-units exist, whole scopes
// otherwise. The second return is the requested shard count (0 = auto).
func phaseItems(scopes []scope.Scope, weights map[string]int, pc config.PhaseConfig) ([]plan.Item, int) {
	if pc.SubUnitShards > 0 {
		var items []plan.Item
		for _, s := range scopes {
			if len(s.SubUnits) == 0 {
				items = append(items, plan.Item{ScopeID: s.ID, Weight: weights[s.ID]})
				continue
			}
			for _, su := range s.SubUnits {
				items = append(items, plan.Item{ScopeID: s.ID, SubUnit: su.ID, Weight: su.Weight})
			}
		}
		return items, pc.SubUnitShards
	}
	return plan.ScopeItems(weights), pc.Shards
}

// methodItems slices scopes at test-method granularity. Classes whose method
// names could not be extracted, and scopes without classes, keep their
// coarser item.
func methodItems(scopes []scope.Scope, weights map[string]int) []plan.Item {
	var items []plan.Item
	for _, s := range scopes {
		if len(s.SubUnits) == 0 {
			items = append(items, plan.Item{ScopeID: s.ID, Weight: weights[s.ID]})
			continue
		}
		for _, su := range s.SubUnits {
			if len(su.Tests) == 0 {
				items = append(items, plan.Item{ScopeID: s.ID, SubUnit: su.ID, Weight: su.Weight})
				continue
			}
			for _, m := range su.Tests {
				items = append(items, plan.Item{ScopeID: s.ID, SubUnit: su.ID + "." + m, Weight: 1})
			}
		}
	}
	return items
}

// executedScopes counts the distinct scope ids that actually ran in a phase.
func executedScopes(shards []adapter.ShardSummary) int {
	seen := make(map[string]bool)
	for _, s := range shards {
		for _, id := range s.Scopes {
			seen[id] = true
		}
	}
	return len(seen)
}

func phaseNames(phases []config.Phase) []string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return names
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
