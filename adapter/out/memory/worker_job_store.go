package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

// JobStore implements out.JobRepository with the same one-active-job-per-scope
// rule the Mongo partial unique index enforces.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.ReclassifyJob
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.ReclassifyJob)}
}

var _ out.JobRepository = (*JobStore)(nil)

func cloneJob(j *domain.ReclassifyJob) *domain.ReclassifyJob {
	cp := *j
	if j.CategoryDeltas != nil {
		cp.CategoryDeltas = make(map[string]int64, len(j.CategoryDeltas))
		for k, v := range j.CategoryDeltas {
			cp.CategoryDeltas[k] = v
		}
	}
	return &cp
}

func (s *JobStore) Create(ctx context.Context, job *domain.ReclassifyJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.UserID == job.UserID && j.ScopeKey == job.ScopeKey && j.Active() {
			return out.ErrJobRunning
		}
	}
	if _, ok := s.jobs[job.ID]; ok {
		return out.ErrDuplicate
	}
	job.UpdatedAt = time.Now()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.ReclassifyJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok || existing.UserID != job.UserID {
		return false, out.ErrNotFound
	}
	if existing.Status.Terminal() {
		return false, out.ErrJobFinished
	}

	job.UpdatedAt = time.Now()
	job.CancelRequested = existing.CancelRequested
	s.jobs[job.ID] = cloneJob(job)
	return existing.CancelRequested, nil
}

func (s *JobStore) RequestCancel(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return out.ErrNotFound
	}
	if j.Status.Terminal() {
		return out.ErrJobFinished
	}
	j.CancelRequested = true
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, userID, id string) (*domain.ReclassifyJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || j.UserID != userID {
		return nil, out.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReclassifyJob
	for _, j := range s.jobs {
		if j.UserID == userID {
			result = append(result, cloneJob(j))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
