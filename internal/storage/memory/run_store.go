package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

// RunStore keeps the run ledger in-memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]pipeline.Run
}

// NewRunStore creates an empty in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]pipeline.Run)}
}

// RecordRun inserts or replaces the run.
func (s *RunStore) RecordRun(_ context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun returns the run or pipeline.ErrRunNotFound.
func (s *RunStore) GetRun(_ context.Context, runID string) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return pipeline.Run{}, fmt.Errorf("%s: %w", runID, pipeline.ErrRunNotFound)
	}
	return run, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *RunStore) ListRuns(_ context.Context, filter pipeline.RunFilter) ([]pipeline.Run, error) {
	s.mu.RLock()
	out := make([]pipeline.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.PublisherRef != "" && run.PublisherRef != filter.PublisherRef {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b pipeline.Run) int {
		if c := b.Started.Compare(a.Started); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Offset > 0 {
		out = out[min(filter.Offset, len(out)):]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close implements pipeline.RunStore; it performs no action.
func (s *RunStore) Close() error {
	return nil
}
