package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]crawler.Job)}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, store.ErrNotFound
	}
	return job, nil
}

// List returns jobs newest first.
func (s *JobStore) List(_ context.Context, status *crawler.JobStatus, limit, offset int) ([]crawler.Job, error) {
	s.mu.RLock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	if offset >= len(out) {
		return []crawler.Job{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus updates the status and counters for a job.
func (s *JobStore) UpdateStatus(
	_ context.Context,
	id string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(at)
	}
	if status.Terminal() {
		job.Finished = pointerTime(at)
	}
	s.jobs[id] = job
	return nil
}

// UpdateSeedVersion stores the seeding checkpoint.
func (s *JobStore) UpdateSeedVersion(_ context.Context, id, seedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.SeedVersion = seedVersion
	s.jobs[id] = job
	return nil
}

// LastSeedVersion returns the seed version of the newest succeeded job for
// connection and specKey.
func (s *JobStore) LastSeedVersion(_ context.Context, connection, specKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		newest crawler.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.Parameters.Connection != connection || job.Status != crawler.JobStatusSucceeded {
			continue
		}
		if job.SeedVersion == "" || job.Parameters.Spec.Key() != specKey {
			continue
		}
		if !found || job.Submitted.After(newest.Submitted) ||
			(job.Submitted.Equal(newest.Submitted) && job.ID > newest.ID) {
			newest, found = job, true
		}
	}
	return newest.SeedVersion, nil
}

// CheckIfReferenced reports whether a queued or running job uses connection.
func (s *JobStore) CheckIfReferenced(_ context.Context, connection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Parameters.Connection == connection && !job.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
