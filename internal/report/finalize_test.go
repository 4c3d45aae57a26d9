package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shardrun/internal/adapter"
	"shardrun/internal/config"
	"shardrun/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func sampleOutcomes() []PhaseOutcome {
	return []PhaseOutcome{
		{
			Phase:      config.PhaseUnit,
			ReturnCode: intp(0),
			Aggregate: &PhaseAggregate{
				Phase: config.PhaseUnit, ShardCount: 2, Success: true,
				Counters: adapter.Counters{Run: 20, Skipped: 1},
			},
			DurationSecs: 12.5,
		},
		{
			Phase:      config.PhaseUI,
			ReturnCode: intp(2),
			Aggregate: &PhaseAggregate{
				Phase: config.PhaseUI, ShardCount: 1, ReturnCode: 2,
				Counters: adapter.Counters{Run: 5, Failed: 1},
			},
			DurationSecs: 4.0,
		},
		{Phase: config.PhaseIntegration, ReturnCode: nil},
		{Phase: config.PhaseE2E, ReturnCode: nil},
	}
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	started := time.Now().Add(-time.Minute)

	summary, err := Finalize("abc123", dir, started, sampleOutcomes(), Coverage{SourceScopes: 8, ExecutedScopes: 6})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ReturnCode)
	assert.False(t, summary.Success)
	assert.Equal(t, adapter.Counters{Run: 25, Failed: 1, Skipped: 1}, summary.Counters)
	assert.Equal(t, SchemaVersion, summary.SchemaVersion)

	for _, name := range []string{"summary.json", "digest.json", "index.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// Skipped phases keep a null return code in the artifact.
	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var decoded SessionSummary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.Phases[2].ReturnCode)
	assert.Equal(t, 2, *decoded.Phases[1].ReturnCode)
}

// stripVolatile clears the fields that legitimately differ between two
// finalize calls so the remainder can be compared byte for byte.
func stripVolatile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	delete(m, "start_time")
	delete(m, "end_time")
	delete(m, "duration_secs")
	out, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	return out
}

func TestFinalizeIdempotent(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	outcomes := sampleOutcomes()

	dirA := t.TempDir()
	dirB := t.TempDir()
	_, err := Finalize("abc123", dirA, started, outcomes, Coverage{SourceScopes: 8, ExecutedScopes: 6})
	require.NoError(t, err)
	_, err = Finalize("abc123", dirB, started, outcomes, Coverage{SourceScopes: 8, ExecutedScopes: 6})
	require.NoError(t, err)

	assert.Equal(t,
		string(stripVolatile(t, filepath.Join(dirA, "summary.json"))),
		string(stripVolatile(t, filepath.Join(dirB, "summary.json"))))
}

func TestFinalizeAllGreen(t *testing.T) {
	outcomes := []PhaseOutcome{
		{Phase: config.PhaseUnit, ReturnCode: intp(0), Aggregate: &PhaseAggregate{Success: true, Counters: adapter.Counters{Run: 3}}},
	}
	summary, err := Finalize("ok1", t.TempDir(), time.Now(), outcomes, Coverage{})
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 0, summary.ReturnCode)
}

func TestRenderIndex(t *testing.T) {
	summary, err := Finalize("abc123", t.TempDir(), time.Now().Add(-time.Minute), sampleOutcomes(), Coverage{})
	require.NoError(t, err)

	out := RenderIndex(summary)
	assert.Contains(t, out, "unit")
	assert.Contains(t, out, "failed (rc=2)")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "abc123")
}

func TestRecordTimings(t *testing.T) {
	hist := store.NewMemoryHistoryStore(store.BlendRunningAverage, 0)

	RecordTimings(hist, []adapter.ShardSummary{
		{Phase: config.PhaseUnit, Scopes: []string{"billing", "crm"}, DurationSec: 40},
		{Phase: config.PhaseUnit, Scopes: []string{"stock"}, DurationSec: 10},
		{Phase: config.PhaseUnit, Scopes: nil, DurationSec: 99},  // no scopes, ignored
		{Phase: config.PhaseUnit, Scopes: []string{"hr"}},        // zero duration, ignored
	})

	h, err := hist.Load()
	require.NoError(t, err)

	billing, ok := h.Lookup(config.PhaseUnit, "billing")
	require.True(t, ok)
	assert.InDelta(t, 20.0, billing.AvgSecs, 0.001)

	stock, ok := h.Lookup(config.PhaseUnit, "stock")
	require.True(t, ok)
	assert.InDelta(t, 10.0, stock.AvgSecs, 0.001)

	_, ok = h.Lookup(config.PhaseUnit, "hr")
	assert.False(t, ok)

	assert.Equal(t, 1, hist.Flushed)
}

// failingHistoryStore rejects records for one scope.
type failingHistoryStore struct {
	*store.MemoryHistoryStore
	reject string
}

func (s *failingHistoryStore) Record(phase config.Phase, scopeID string, secs float64) error {
	if scopeID == s.reject {
		return errors.New("disk full")
	}
	return s.MemoryHistoryStore.Record(phase, scopeID, secs)
}

func TestRecordTimingsContinuesPastRecordError(t *testing.T) {
	hist := &failingHistoryStore{
		MemoryHistoryStore: store.NewMemoryHistoryStore(store.BlendRunningAverage, 0),
		reject:             "billing",
	}

	RecordTimings(hist, []adapter.ShardSummary{
		{Phase: config.PhaseUnit, Scopes: []string{"billing", "crm"}, DurationSec: 40},
		{Phase: config.PhaseUnit, Scopes: []string{"stock"}, DurationSec: 10},
	})

	// One bad record loses that scope only; the rest still land and flush.
	h, err := hist.Load()
	require.NoError(t, err)

	_, ok := h.Lookup(config.PhaseUnit, "billing")
	assert.False(t, ok)
	_, ok = h.Lookup(config.PhaseUnit, "crm")
	assert.True(t, ok)
	_, ok = h.Lookup(config.PhaseUnit, "stock")
	assert.True(t, ok)

	assert.Equal(t, 1, hist.Flushed)
}
