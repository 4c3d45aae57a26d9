package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePointerStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointers.json")
	s := NewFilePointerStore(path)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Empty(t, cur)

	require.NoError(t, s.SetCurrent("sess-1"))
	cur, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, "sess-1", cur)

	require.NoError(t, s.PromoteLatest("sess-1"))

	cur, err = s.Current()
	require.NoError(t, err)
	assert.Empty(t, cur)

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, "sess-1", latest)

	// Pointers survive a reopen.
	s2 := NewFilePointerStore(path)
	latest, err = s2.Latest()
	require.NoError(t, err)
	assert.Equal(t, "sess-1", latest)
}

func TestPromoteLatestKeepsUnrelatedCurrent(t *testing.T) {
	s := NewMemoryPointerStore()
	require.NoError(t, s.SetCurrent("sess-2"))
	require.NoError(t, s.PromoteLatest("sess-1"))

	cur, _ := s.Current()
	assert.Equal(t, "sess-2", cur)
	latest, _ := s.Latest()
	assert.Equal(t, "sess-1", latest)
}
