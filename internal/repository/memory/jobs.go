package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/revpipe/revpipe/internal/domain"
)

// SyncJobRepository is the in-memory sync job store.
type SyncJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.SyncJob
}

// NewSyncJobRepository creates an empty in-memory sync job repository.
func NewSyncJobRepository() *SyncJobRepository {
	return &SyncJobRepository{jobs: make(map[string]*domain.SyncJob)}
}

func (r *SyncJobRepository) Create(ctx context.Context, job *domain.SyncJob) error {
	if job.ID == "" {
		return fmt.Errorf("create sync job: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.ID]; dup {
		return fmt.Errorf("create sync job %s: duplicate id", job.ID)
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *SyncJobRepository) Update(ctx context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("update sync job %s: %w", job.ID, domain.ErrNotFound)
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *SyncJobRepository) FindByID(ctx context.Context, id string) (*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("sync job %s: %w", id, domain.ErrNotFound)
	}
	return cloneJob(job), nil
}

func (r *SyncJobRepository) FindRunning(ctx context.Context) (*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if job.Status == domain.SyncJobRunning {
			return cloneJob(job), nil
		}
	}
	return nil, fmt.Errorf("running sync job: %w", domain.ErrNotFound)
}

func (r *SyncJobRepository) ListRecent(ctx context.Context, limit int) ([]*domain.SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.SyncJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(j *domain.SyncJob) *domain.SyncJob {
	c := *j
	if j.Stats != nil {
		c.Stats = make(map[string]domain.EntityStats, len(j.Stats))
		for k, v := range j.Stats {
			c.Stats[k] = v
		}
	}
	return &c
}
