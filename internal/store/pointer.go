package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// sessionPointers is the on-disk shape of the pointer file.
type sessionPointers struct {
	Current string `json:"current,omitempty"`
	Latest  string `json:"latest,omitempty"`
}

// filePointerStore is the file-backed SessionPointerStore.
type filePointerStore struct {
	mu   sync.Mutex
	path string
}

// NewFilePointerStore creates a SessionPointerStore backed by a JSON file.
func NewFilePointerStore(path string) SessionPointerStore {
	return &filePointerStore{path: path}
}

func (s *filePointerStore) SetCurrent(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptrs, err := s.read()
	if err != nil {
		return err
	}
	ptrs.Current = sessionID
	return s.write(ptrs)
}

func (s *filePointerStore) PromoteLatest(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptrs, err := s.read()
	if err != nil {
		return err
	}
	if ptrs.Current == sessionID {
		ptrs.Current = ""
	}
	ptrs.Latest = sessionID
	return s.write(ptrs)
}

func (s *filePointerStore) Current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptrs, err := s.read()
	if err != nil {
		return "", err
	}
	return ptrs.Current, nil
}

func (s *filePointerStore) Latest() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptrs, err := s.read()
	if err != nil {
		return "", err
	}
	return ptrs.Latest, nil
}

func (s *filePointerStore) read() (sessionPointers, error) {
	var ptrs sessionPointers
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ptrs, nil
		}
		return ptrs, err
	}
	if err := json.Unmarshal(data, &ptrs); err != nil {
		return ptrs, fmt.Errorf("corrupt session pointers at %s: %w", s.path, err)
	}
	return ptrs, nil
}

func (s *filePointerStore) write(ptrs sessionPointers) error {
	data, err := json.MarshalIndent(ptrs, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0644)
}

// MemoryPointerStore is an in-memory SessionPointerStore for tests.
type MemoryPointerStore struct {
	mu      sync.Mutex
	current string
	latest  string
}

// NewMemoryPointerStore creates an empty in-memory pointer store.
func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{}
}

func (s *MemoryPointerStore) SetCurrent(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sessionID
	return nil
}

func (s *MemoryPointerStore) PromoteLatest(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == sessionID {
		s.current = ""
	}
	s.latest = sessionID
	return nil
}

func (s *MemoryPointerStore) Current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *MemoryPointerStore) Latest() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}
