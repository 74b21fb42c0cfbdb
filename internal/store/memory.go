package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openrating/waterfall/internal/model"
)

// MemoryStore is an in-memory Store implementation for testing and
// development. It is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*model.Run
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*model.Run),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := copyRun(run)
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	cp := copyRun(r)
	return &cp, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, copyRun(r))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, id string, summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("complete run %s: %w", id, ErrNotFound)
	}
	r.Status = model.RunCompleted
	r.Summary = copySummary(summary)
	r.Error = ""
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FailRun(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("fail run %s: %w", id, ErrNotFound)
	}
	r.Status = model.RunFailed
	r.Error = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// copyRun returns a copy that shares nothing mutable with r.
func copyRun(r *model.Run) model.Run {
	cp := *r
	cp.Summary = copySummary(r.Summary)
	return cp
}

func copySummary(s *model.RunSummary) *model.RunSummary {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Tranches = append([]model.TrancheSummary(nil), s.Tranches...)
	if s.FailureReasons != nil {
		cp.FailureReasons = make(map[string]int, len(s.FailureReasons))
		for k, v := range s.FailureReasons {
			cp.FailureReasons[k] = v
		}
	}
	return &cp
}
