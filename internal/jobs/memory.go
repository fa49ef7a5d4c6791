// internal/jobs/memory.go
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mcp-food-log/internal/models"
)

// MemoryStore is an in-process Store for tests and single-instance runs.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*models.AnalysisJob
	lastSweep *models.SweepStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.AnalysisJob)}
}

func (s *MemoryStore) Create(_ context.Context, id string, media *models.MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	job := &models.AnalysisJob{ID: id, Status: models.StatusPending}
	if media != nil {
		ref := *media
		ref.JobID = id
		job.Media = &ref
	}
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) settle(id string, apply func(*models.AnalysisJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}
	apply(job)
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, result *models.MealAnalysis) error {
	return s.settle(id, func(job *models.AnalysisJob) {
		job.Status = models.StatusComplete
		job.Result = result
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, message string) error {
	return s.settle(id, func(job *models.AnalysisJob) {
		job.Status = models.StatusError
		job.ErrorMessage = message
	})
}

// Get returns a copy so callers never share state with the writer.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *job
	if job.Media != nil {
		ref := *job.Media
		out.Media = &ref
	}
	return &out, nil
}

func (s *MemoryStore) ListMediaRefs(_ context.Context, prefix string) ([]models.MediaRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []models.MediaRef
	for id, job := range s.jobs {
		if job.Media == nil || !strings.HasPrefix(id, prefix) {
			continue
		}
		refs = append(refs, *job.Media)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].JobID < refs[j].JobID })
	return refs, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) RecordSweep(_ context.Context, stats models.SweepStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSweep = &stats
	return nil
}

func (s *MemoryStore) LastSweep(_ context.Context) (*models.SweepStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSweep == nil {
		return nil, ErrNotFound
	}
	out := *s.lastSweep
	return &out, nil
}
