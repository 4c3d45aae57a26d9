package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/store"
	"shardrun/pkg/logging"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Finalize merges phase outcomes into the terminal SessionSummary and writes
// the durable artifacts: the full summary, a compact digest for pollers, and
// a human-readable index. Calling it twice with the same outcomes produces
// identical documents except for the timestamps.
func Finalize(sessionID, dir string, started time.Time, outcomes []PhaseOutcome, coverage Coverage) (SessionSummary, error) {
	summary := SessionSummary{
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		StartTime:     started,
		EndTime:       time.Now(),
		Phases:        outcomes,
		Coverage:      coverage,
	}
	summary.DurationSecs = summary.EndTime.Sub(summary.StartTime).Seconds()

	for _, o := range outcomes {
		if o.Aggregate != nil {
			summary.Counters.Add(o.Aggregate.Counters)
		}
		if summary.ReturnCode == 0 && o.ReturnCode != nil && *o.ReturnCode != 0 {
			summary.ReturnCode = *o.ReturnCode
		}
	}
	summary.Success = summary.ReturnCode == 0

	if err := writeJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return summary, fmt.Errorf("failed to write session summary: %w", err)
	}

	digest := Digest{
		SessionID:  summary.SessionID,
		Success:    summary.Success,
		ReturnCode: summary.ReturnCode,
		Counters:   summary.Counters,
		EndTime:    summary.EndTime,
	}
	if err := writeJSON(filepath.Join(dir, "digest.json"), digest); err != nil {
		return summary, fmt.Errorf("failed to write digest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "index.txt"), []byte(RenderIndex(summary)), 0644); err != nil {
		return summary, fmt.Errorf("failed to write index: %w", err)
	}

	return summary, nil
}

// RenderIndex renders the human-readable per-phase table.
func RenderIndex(summary SessionSummary) string {
	t := table.NewWriter()
	t.SetTitle("session %s", summary.SessionID)
	t.AppendHeader(table.Row{"Phase", "Outcome", "Run", "Failed", "Errored", "Skipped", "Duration"})

	for _, o := range summary.Phases {
		outcome := "skipped"
		var c adapter.Counters
		if o.ReturnCode != nil {
			if *o.ReturnCode == 0 {
				outcome = "ok"
			} else {
				outcome = fmt.Sprintf("failed (rc=%d)", *o.ReturnCode)
			}
		}
		if o.Aggregate != nil {
			c = o.Aggregate.Counters
		}
		t.AppendRow(table.Row{
			string(o.Phase), outcome, c.Run, c.Failed, c.Errored, c.Skipped,
			fmt.Sprintf("%.1fs", o.DurationSecs),
		})
	}

	t.AppendFooter(table.Row{
		"total",
		map[bool]string{true: "ok", false: fmt.Sprintf("failed (rc=%d)", summary.ReturnCode)}[summary.Success],
		summary.Counters.Run, summary.Counters.Failed, summary.Counters.Errored, summary.Counters.Skipped,
		fmt.Sprintf("%.1fs", summary.DurationSecs),
	})
	return t.Render() + "\n"
}

// RecordTimings feeds this run's per-scope timings back into the weight
// history. A shard's duration is attributed evenly across its scopes; the
// approximation washes out over sessions as the balance improves. Failures
// to record are logged, never fatal.
func RecordTimings(hist store.WeightHistoryStore, shards []adapter.ShardSummary) {
	for _, s := range shards {
		if len(s.Scopes) == 0 || s.DurationSec <= 0 {
			continue
		}
		perScope := s.DurationSec / float64(len(s.Scopes))
		for _, scopeID := range s.Scopes {
			if err := hist.Record(s.Phase, scopeID, perScope); err != nil {
				logging.Warn("report", "Could not record timing for %s/%s: %v", s.Phase, scopeID, err)
				continue
			}
		}
	}
	if err := hist.Flush(); err != nil {
		logging.Warn("report", "Could not flush weight history: %v", err)
	}
}
