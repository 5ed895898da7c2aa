package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in a process-local map. It is the fallback used
// when the durable store is unreachable at startup; all semantics match
// PostgresStore, but state is lost on process restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
	}
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Payload != nil {
		clone.Payload = append([]byte(nil), job.Payload...)
	}
	if job.Error != nil {
		errCopy := *job.Error
		clone.Error = &errCopy
	}
	return &clone
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) (*Job, error) {
	now := time.Now()

	stored := cloneJob(job)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = JobStatusPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	s.jobs[stored.ID] = stored
	s.mu.Unlock()

	return cloneJob(stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	patched := cloneJob(job)
	if err := patch.apply(patched); err != nil {
		return nil, err
	}
	s.jobs[id] = patched

	return cloneJob(patched), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Job, error) {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, *cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}
