package report

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
	"shardrun/pkg/logging"
)

// failureHeader matches unittest-style failure block headers:
//
//	FAIL: test_tax (billing.tests.TestInvoices)
//	ERROR: test_sync (crm.tests.TestLeads)
var failureHeader = regexp.MustCompile(`^(FAIL|ERROR): (\S+(?: \([^)]*\))?)`)

// separatorLine delimits failure blocks in engine output.
var separatorLine = regexp.MustCompile(`^[=-]{10,}\s*$`)

// AggregatePhase merges the shard summaries of one phase: counters sum
// commutatively, success is the logical AND, and the phase return code is
// the first non-zero shard return code in shard order. Shard logs are
// re-parsed for structured failure entries, deduplicated by fingerprint.
func AggregatePhase(phase config.Phase, shards []adapter.ShardSummary) PhaseAggregate {
	agg := PhaseAggregate{Phase: phase, ShardCount: len(shards), Success: true}

	ordered := make([]adapter.ShardSummary, len(shards))
	copy(ordered, shards)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ShardIndex < ordered[j].ShardIndex })

	seen := make(map[string]bool)
	for _, s := range ordered {
		agg.Counters.Add(s.Counters)
		if !s.Success() {
			agg.Success = false
			if agg.ReturnCode == 0 {
				agg.ReturnCode = s.ReturnCode
			}
		}
		if s.StallNote != "" {
			agg.StallNotes = append(agg.StallNotes, s.StallNote)
		}
		for _, entry := range parseFailures(s.LogPath) {
			if seen[entry.Fingerprint] {
				continue
			}
			seen[entry.Fingerprint] = true
			agg.Failures = append(agg.Failures, entry)
		}
	}
	return agg
}

// WritePhaseArtifacts persists the phase aggregate and its test-report
// fragment under dir.
func WritePhaseArtifacts(dir string, agg PhaseAggregate) error {
	if err := writeJSON(filepath.Join(dir, fmt.Sprintf("phase_%s.json", agg.Phase)), agg); err != nil {
		return err
	}
	fragment := adapter.ReportFragment{
		Name:     string(agg.Phase),
		Tests:    agg.Counters.Run,
		Failures: agg.Counters.Failed,
		Errors:   agg.Counters.Errored,
		Skipped:  agg.Counters.Skipped,
	}
	return writeJSON(filepath.Join(dir, fmt.Sprintf("phase_%s.report.json", agg.Phase)), fragment)
}

// parseFailures extracts structured failure entries from one shard log.
// Unreadable logs yield no entries; aggregation never fails on diagnostics.
func parseFailures(logPath string) []FailureEntry {
	f, err := os.Open(logPath)
	if err != nil {
		logging.Debug("report", "No shard log to parse at %s: %v", logPath, err)
		return nil
	}
	defer f.Close()

	var entries []FailureEntry
	var current *FailureEntry
	var traceback []string

	flush := func() {
		if current == nil {
			return
		}
		current.Traceback = strings.TrimRight(strings.Join(traceback, "\n"), "\n")
		if len(traceback) > 0 {
			// The last traceback line usually carries the assertion message.
			current.Message = traceback[len(traceback)-1]
		}
		current.Fingerprint = fingerprint(current.Type, current.TestID, current.Message)
		entries = append(entries, *current)
		current = nil
		traceback = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := failureHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = &FailureEntry{
				Type:    strings.ToLower(m[1]),
				TestID:  m[2],
				Message: line,
			}
			continue
		}
		if current != nil {
			if separatorLine.MatchString(line) {
				if len(traceback) > 0 {
					flush()
				}
				continue
			}
			if strings.TrimSpace(line) != "" {
				traceback = append(traceback, line)
			}
		}
	}
	flush()
	return entries
}

// fingerprint hashes the stable parts of a failure so the same breakage
// surfacing in several shards dedups to one entry.
func fingerprint(failType, testID, message string) string {
	h := sha1.Sum([]byte(failType + "\x00" + testID + "\x00" + message))
	return hex.EncodeToString(h[:])[:12]
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
