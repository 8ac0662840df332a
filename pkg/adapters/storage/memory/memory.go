package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/genflow/pkg/domain"
)

// ProcessStore implements ports.ProcessStore using an in-memory map.
// Runs are copied on save and load so callers never share state with the
// store.
type ProcessStore struct {
	runs map[string]*domain.ProcessRun
	mu   sync.RWMutex
}

// NewProcessStore creates a new in-memory process store
func NewProcessStore() *ProcessStore {
	return &ProcessStore{
		runs: make(map[string]*domain.ProcessRun),
	}
}

// Save stores a copy of the run
func (s *ProcessStore) Save(ctx context.Context, run *domain.ProcessRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("process run must have an ID")
	}

	c := run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = c
	return nil
}

// Load returns a copy of the stored run
func (s *ProcessStore) Load(ctx context.Context, id string) (*domain.ProcessRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessNotFound, id)
	}

	return run.Clone(), nil
}

// Delete removes a run
func (s *ProcessStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	return nil
}

// List returns all stored process IDs
func (s *ProcessStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}

	return ids, nil
}
