package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"shardrun/internal/config"
	"shardrun/internal/plan"
	"shardrun/pkg/logging"
)

const (
	// windowSize is how many recent output lines the stall detector inspects.
	windowSize = 200
	// dominanceThreshold is the share of the window one normalized pattern
	// must occupy for output to count as repetitive.
	dominanceThreshold = 0.7
)

// Runner invokes the external test-execution engine for one shard at a time.
type Runner struct {
	engine config.EngineConfig
}

// NewRunner creates a Runner for the configured engine.
func NewRunner(engine config.EngineConfig) *Runner {
	return &Runner{engine: engine}
}

// BuildTagExpression derives the engine tag expression from the phase tag
// and the shard's items: "unit/billing,unit/crm:TestLeads".
func BuildTagExpression(phaseTag string, items []plan.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		part := phaseTag + "/" + it.ScopeID
		if it.SubUnit != "" {
			part += ":" + it.SubUnit
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}

// scopeList returns the deduplicated, sorted scope ids of a shard.
func scopeList(items []plan.Item) []string {
	seen := make(map[string]bool, len(items))
	var scopes []string
	for _, it := range items {
		if !seen[it.ScopeID] {
			seen[it.ScopeID] = true
			scopes = append(scopes, it.ScopeID)
		}
	}
	sort.Strings(scopes)
	return scopes
}

// Run executes one shard to completion and returns its summary. Failures to
// launch the engine are captured in the summary (return_code=1 plus an error
// field) rather than returned, so one shard's launch failure never aborts
// sibling shards.
func (r *Runner) Run(ctx context.Context, req Request) ShardSummary {
	tagExpr := BuildTagExpression(req.PhaseTag, req.Items)

	args := append([]string{}, r.engine.Args...)
	args = append(args,
		"--db-name="+req.DBName,
		"--test-tags="+tagExpr,
		fmt.Sprintf("--workers=%d", req.Workers),
		"--stop-after-done",
	)

	base := fmt.Sprintf("shard_%s_%02d", req.Phase, req.ShardIndex)
	summary := ShardSummary{
		Command:     append([]string{r.engine.Command}, args...),
		Phase:       req.Phase,
		ShardIndex:  req.ShardIndex,
		DBName:      req.DBName,
		Scopes:      scopeList(req.Items),
		TagExpr:     tagExpr,
		Timeout:     req.Timeout,
		StartTime:   time.Now(),
		LogPath:     filepath.Join(req.OutputDir, base+".log"),
		SummaryPath: filepath.Join(req.OutputDir, base+".summary.json"),
	}

	logFile, err := os.Create(summary.LogPath)
	if err != nil {
		summary.ReturnCode = 1
		summary.Error = fmt.Sprintf("failed to create shard log: %v", err)
		r.finish(&summary)
		return summary
	}
	defer logFile.Close()

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.engine.Command, args...)
	// stdout and stderr are merged and streamed through one pipe so the log
	// interleaves the way an operator would see it in a terminal.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.consumeOutput(pr, logFile, req, &summary)
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		wg.Wait()
		summary.ReturnCode = 1
		summary.Error = fmt.Sprintf("failed to launch engine: %v", err)
		r.finish(&summary)
		return summary
	}

	waitErr := cmd.Wait()
	pw.Close()
	wg.Wait()

	switch {
	case waitErr == nil:
		summary.ReturnCode = 0
	case runCtx.Err() == context.DeadlineExceeded:
		summary.ReturnCode = 1
		summary.Error = fmt.Sprintf("engine timed out after %v", req.Timeout)
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok && exitErr.ExitCode() >= 0 {
			summary.ReturnCode = exitErr.ExitCode()
		} else {
			summary.ReturnCode = 1
			summary.Error = waitErr.Error()
		}
	}

	r.finish(&summary)
	return summary
}

// consumeOutput streams engine output line-by-line into the log file while
// extracting counters and watching for stalled, repetitive output.
func (r *Runner) consumeOutput(pr io.Reader, logFile io.Writer, req Request, summary *ShardSummary) {
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	window := make([]string, 0, windowSize)
	lastProgress := time.Now()
	stallThreshold := req.StallThreshold
	if stallThreshold <= 0 {
		stallThreshold = r.engine.StallThreshold
	}

	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(logFile, line)

		if countLine(&summary.Counters, line) {
			lastProgress = time.Now()
			continue
		}

		if len(window) == windowSize {
			copy(window, window[1:])
			window = window[:windowSize-1]
		}
		window = append(window, line)

		// Repetitive output past the stall threshold is a diagnostic hint
		// for operators, never a kill signal.
		if summary.StallNote == "" && stallThreshold > 0 && time.Since(lastProgress) > stallThreshold {
			if share, pattern := dominantShare(window); share > dominanceThreshold {
				summary.StallNote = fmt.Sprintf(
					"no test progress for %v; %.0f%% of recent output matches %q",
					stallThreshold, share*100, pattern)
				logging.Warn("adapter", "Shard %s/%d looks stalled: %s", req.Phase, req.ShardIndex, summary.StallNote)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn("adapter", "Output stream for shard %s/%d ended early: %v", req.Phase, req.ShardIndex, err)
	}
}

// finish stamps timing and persists the summary and its report fragment.
func (r *Runner) finish(summary *ShardSummary) {
	summary.EndTime = time.Now()
	summary.DurationSec = summary.EndTime.Sub(summary.StartTime).Seconds()

	if err := writeJSON(summary.SummaryPath, summary); err != nil {
		logging.Warn("adapter", "Could not persist shard summary: %v", err)
	}

	fragment := ReportFragment{
		Name:     fmt.Sprintf("%s-shard-%02d", summary.Phase, summary.ShardIndex),
		Tests:    summary.Counters.Run,
		Failures: summary.Counters.Failed,
		Errors:   summary.Counters.Errored,
		Skipped:  summary.Counters.Skipped,
		TimeSecs: summary.DurationSec,
	}
	fragmentPath := strings.TrimSuffix(summary.SummaryPath, ".summary.json") + ".report.json"
	if err := writeJSON(fragmentPath, fragment); err != nil {
		logging.Warn("adapter", "Could not persist report fragment: %v", err)
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
