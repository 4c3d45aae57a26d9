package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"shardrun/internal/config"
)

// fileHistoryStore is the file-backed WeightHistoryStore. The whole history
// is held in memory between Load and Flush; Record never touches disk.
type fileHistoryStore struct {
	mu      sync.Mutex
	path    string
	mode    BlendMode
	decay   float64
	history History
	loaded  bool
}

// NewFileHistoryStore creates a WeightHistoryStore backed by a JSON file at
// the given path.
func NewFileHistoryStore(path string, mode BlendMode, decay float64) WeightHistoryStore {
	return &fileHistoryStore{path: path, mode: mode, decay: decay}
}

func (s *fileHistoryStore) Load() (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	// Hand out a copy so callers cannot mutate the store's view.
	out := make(History, len(s.history))
	for phase, scopes := range s.history {
		cp := make(map[string]ScopeTiming, len(scopes))
		for id, t := range scopes {
			cp[id] = t
		}
		out[phase] = cp
	}
	return out, nil
}

func (s *fileHistoryStore) Record(phase config.Phase, scopeID string, secs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	scopes, ok := s.history[phase]
	if !ok {
		scopes = make(map[string]ScopeTiming)
		s.history[phase] = scopes
	}
	scopes[scopeID] = blend(scopes[scopeID], secs, s.mode, s.decay)
	return nil
}

func (s *fileHistoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weight history: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write weight history: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *fileHistoryStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.history = make(History)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &s.history); err != nil {
		return fmt.Errorf("corrupt weight history at %s: %w", s.path, err)
	}
	s.loaded = true
	return nil
}

// MemoryHistoryStore is an in-memory WeightHistoryStore for tests.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	mode    BlendMode
	decay   float64
	history History
	Flushed int
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore(mode BlendMode, decay float64) *MemoryHistoryStore {
	return &MemoryHistoryStore{mode: mode, decay: decay, history: make(History)}
}

// Seed installs a timing record directly, bypassing blending.
func (s *MemoryHistoryStore) Seed(phase config.Phase, scopeID string, t ScopeTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history[phase] == nil {
		s.history[phase] = make(map[string]ScopeTiming)
	}
	s.history[phase][scopeID] = t
}

func (s *MemoryHistoryStore) Load() (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(History, len(s.history))
	for phase, scopes := range s.history {
		cp := make(map[string]ScopeTiming, len(scopes))
		for id, t := range scopes {
			cp[id] = t
		}
		out[phase] = cp
	}
	return out, nil
}

func (s *MemoryHistoryStore) Record(phase config.Phase, scopeID string, secs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history[phase] == nil {
		s.history[phase] = make(map[string]ScopeTiming)
	}
	s.history[phase][scopeID] = blend(s.history[phase][scopeID], secs, s.mode, s.decay)
	return nil
}

func (s *MemoryHistoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Flushed++
	return nil
}
