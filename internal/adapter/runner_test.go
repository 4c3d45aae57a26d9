package adapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shardrun/internal/config"
	"shardrun/internal/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine returns an EngineConfig that runs the given shell script. The
// shard arguments the adapter appends are ignored by the script.
func fakeEngine(script string) config.EngineConfig {
	return config.EngineConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", script, "fake-engine"},
		Timeout: 30 * time.Second,
	}
}

func shardItems() []plan.Item {
	return []plan.Item{
		{ScopeID: "billing", Weight: 5},
		{ScopeID: "crm", Weight: 3},
	}
}

func TestBuildTagExpression(t *testing.T) {
	assert.Equal(t, "unit/billing,unit/crm", BuildTagExpression("unit", shardItems()))

	withSub := []plan.Item{
		{ScopeID: "billing", SubUnit: "TestInvoices"},
		{ScopeID: "billing", SubUnit: "TestRefunds"},
	}
	assert.Equal(t, "unit/billing:TestInvoices,unit/billing:TestRefunds",
		BuildTagExpression("unit", withSub))
}

func TestRunExtractsCounters(t *testing.T) {
	script := `
printf 'INFO db loading registry\n'
printf 'test_total (billing.tests.TestInvoices) ... ok\n'
printf 'test_tax (billing.tests.TestInvoices) ... ok\n'
printf 'test_sync (crm.tests.TestLeads) ... FAIL\n'
printf "test_slow (crm.tests.TestLeads) ... skipped 'nightly'\n"
exit 0`
	out := t.TempDir()
	r := NewRunner(fakeEngine(script))

	summary := r.Run(context.Background(), Request{
		Phase:     config.PhaseUnit,
		PhaseTag:  "unit",
		Items:     shardItems(),
		DBName:    "sess_unit_00",
		Workers:   2,
		OutputDir: out,
	})

	assert.Equal(t, 0, summary.ReturnCode)
	assert.True(t, summary.Success())
	assert.Equal(t, Counters{Run: 3, Failed: 1, Skipped: 1}, summary.Counters)
	assert.Equal(t, []string{"billing", "crm"}, summary.Scopes)
	assert.Equal(t, "unit/billing,unit/crm", summary.TagExpr)
	assert.Empty(t, summary.Error)

	// Log captured the raw lines.
	logData, err := os.ReadFile(summary.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "test_total (billing.tests.TestInvoices) ... ok")

	// Summary and report fragment were persisted.
	var onDisk ShardSummary
	data, err := os.ReadFile(summary.SummaryPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, summary.Counters, onDisk.Counters)

	var fragment ReportFragment
	data, err = os.ReadFile(filepath.Join(out, "shard_unit_00.report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &fragment))
	assert.Equal(t, 3, fragment.Tests)
	assert.Equal(t, 1, fragment.Failures)
}

func TestRunPropagatesExitCode(t *testing.T) {
	r := NewRunner(fakeEngine("printf 'test_a (m.C) ... FAIL\n'; exit 2"))

	summary := r.Run(context.Background(), Request{
		Phase:     config.PhaseUnit,
		PhaseTag:  "unit",
		Items:     shardItems(),
		DBName:    "sess_unit_00",
		OutputDir: t.TempDir(),
	})

	assert.Equal(t, 2, summary.ReturnCode)
	assert.False(t, summary.Success())
	assert.Empty(t, summary.Error)
}

func TestRunLaunchFailureIsContained(t *testing.T) {
	r := NewRunner(config.EngineConfig{Command: "/nonexistent/engine"})

	summary := r.Run(context.Background(), Request{
		Phase:     config.PhaseIntegration,
		PhaseTag:  "integration",
		Items:     shardItems(),
		DBName:    "sess_int_00",
		OutputDir: t.TempDir(),
	})

	assert.Equal(t, 1, summary.ReturnCode)
	assert.Contains(t, summary.Error, "failed to launch engine")

	// The summary is still persisted for the aggregator.
	_, err := os.Stat(summary.SummaryPath)
	assert.NoError(t, err)
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner(fakeEngine("sleep 10"))

	summary := r.Run(context.Background(), Request{
		Phase:     config.PhaseUnit,
		PhaseTag:  "unit",
		Items:     shardItems(),
		DBName:    "sess_unit_00",
		Timeout:   200 * time.Millisecond,
		OutputDir: t.TempDir(),
	})

	assert.Equal(t, 1, summary.ReturnCode)
	assert.Contains(t, summary.Error, "timed out")
}

func TestRunStallDetection(t *testing.T) {
	// Emit one passing test, then a burst of repetitive non-test output
	// after the stall threshold has elapsed.
	script := `
printf 'test_a (m.C) ... ok\n'
sleep 0.3
i=0
while [ $i -lt 50 ]; do
  printf 'WARNING retrying connection to 10.0.0.12\n'
  i=$((i+1))
done`
	r := NewRunner(fakeEngine(script))

	summary := r.Run(context.Background(), Request{
		Phase:          config.PhaseUnit,
		PhaseTag:       "unit",
		Items:          shardItems(),
		DBName:         "sess_unit_00",
		OutputDir:      t.TempDir(),
		StallThreshold: 100 * time.Millisecond,
	})

	assert.Equal(t, 0, summary.ReturnCode)
	assert.Contains(t, summary.StallNote, "retrying connection")
}
