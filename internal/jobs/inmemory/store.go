package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/voice-ledger/internal/jobs"
)

// Store keeps job snapshots in a map. State is lost on restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ArchiveOutputJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobs.ArchiveOutputJob)}
}

// SaveJob stores a copy of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ArchiveOutputJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ArchiveOutputJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %q: %w", jobID, jobs.ErrJobNotFound)
	}
	cp := *job
	return &cp, nil
}

// ListJobs returns copies ordered by creation time, oldest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.ArchiveOutputJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.ArchiveOutputJob
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*jobs.ArchiveOutputJob{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ jobs.Store = (*Store)(nil)
