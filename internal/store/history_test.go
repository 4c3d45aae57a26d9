package store

import (
	"os"
	"path/filepath"
	"testing"

	"shardrun/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHistoryStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weight_history.json")
	s := NewFileHistoryStore(path, BlendRunningAverage, 0)

	require.NoError(t, s.Record(config.PhaseUnit, "mod_a", 30))
	require.NoError(t, s.Record(config.PhaseUnit, "mod_a", 60))
	require.NoError(t, s.Record(config.PhaseUI, "mod_b", 10))
	require.NoError(t, s.Flush())

	// Reopen and verify.
	s2 := NewFileHistoryStore(path, BlendRunningAverage, 0)
	h, err := s2.Load()
	require.NoError(t, err)

	ta, ok := h.Lookup(config.PhaseUnit, "mod_a")
	require.True(t, ok)
	assert.InDelta(t, 45.0, ta.AvgSecs, 1e-9)
	assert.Equal(t, 2, ta.Count)
	assert.InDelta(t, 60.0, ta.LastSecs, 1e-9)

	_, ok = h.Lookup(config.PhaseIntegration, "mod_a")
	assert.False(t, ok)
}

func TestFileHistoryStoreMissingFile(t *testing.T) {
	s := NewFileHistoryStore(filepath.Join(t.TempDir(), "nope.json"), BlendRunningAverage, 0)
	h, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestFileHistoryStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weight_history.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	s := NewFileHistoryStore(path, BlendRunningAverage, 0)
	_, err := s.Load()
	assert.Error(t, err)
}

func TestRunningAverageBlend(t *testing.T) {
	// new_avg = (avg*count + sample)/(count+1)
	prev := ScopeTiming{AvgSecs: 30, Count: 3, LastSecs: 28}
	next := blend(prev, 50, BlendRunningAverage, 0)
	assert.InDelta(t, (30.0*3+50)/4, next.AvgSecs, 1e-9)
	assert.Equal(t, 4, next.Count)
	assert.InDelta(t, 50.0, next.LastSecs, 1e-9)
}

func TestEMABlend(t *testing.T) {
	prev := ScopeTiming{AvgSecs: 30, Count: 3}
	next := blend(prev, 50, BlendEMA, 0.25)
	assert.InDelta(t, 30*0.75+50*0.25, next.AvgSecs, 1e-9)

	// First sample always seeds the average regardless of mode.
	first := blend(ScopeTiming{}, 42, BlendEMA, 0.25)
	assert.InDelta(t, 42.0, first.AvgSecs, 1e-9)
	assert.Equal(t, 1, first.Count)
}

func TestLoadReturnsCopy(t *testing.T) {
	s := NewMemoryHistoryStore(BlendRunningAverage, 0)
	require.NoError(t, s.Record(config.PhaseUnit, "mod_a", 10))

	h, err := s.Load()
	require.NoError(t, err)
	h[config.PhaseUnit]["mod_a"] = ScopeTiming{AvgSecs: 999}

	h2, err := s.Load()
	require.NoError(t, err)
	ta, _ := h2.Lookup(config.PhaseUnit, "mod_a")
	assert.InDelta(t, 10.0, ta.AvgSecs, 1e-9)
}
