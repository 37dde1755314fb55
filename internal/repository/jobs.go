package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/fleetops-back/internal/domain"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("resource belongs to another owner")
	ErrDuplicateJobID    = errors.New("job id already in use")
	ErrInvalidTransition = errors.New("invalid job status transition")

	ErrDuplicateAssignment  = errors.New("route already assigned for this date")
	ErrDuplicateDriverEmail = errors.New("a driver with this email already exists")
)

const defaultHistoryLimit = 20

// JobsRepository abstracts job persistence. Every mutation is keyed by job id;
// there is no other concurrency control.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpsertResult(ctx context.Context, patch domain.ResultPatch) (*domain.Job, error)
	GetJob(ctx context.Context, kind domain.JobKind, jobID string) (*domain.Job, error)
	JobExists(ctx context.Context, kind domain.JobKind, jobID string) (bool, error)
	FindOwned(ctx context.Context, kind domain.JobKind, jobID, ownerID string) (*domain.Job, error)
	ListByOwner(ctx context.Context, filter domain.JobListFilter) ([]domain.Job, error)
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[domain.JobKind]map[string]*domain.Job
	now  func() time.Time
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: map[domain.JobKind]map[string]*domain.Job{
			domain.JobKindAllocation: make(map[string]*domain.Job),
			domain.JobKindRoute:      make(map[string]*domain.Job),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	table, err := r.table(job.Kind)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := table[job.ID]; exists {
		return ErrDuplicateJobID
	}
	clone := cloneJob(job)
	clone.Status = domain.JobStatusProcessing
	clone.CompletedAt = nil
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = r.now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}
	table[job.ID] = clone
	return nil
}

func (r *MemoryJobsRepository) UpsertResult(_ context.Context, patch domain.ResultPatch) (*domain.Job, error) {
	table, err := r.table(patch.Kind)
	if err != nil {
		return nil, err
	}
	if !patch.Status.IsTerminal() {
		return nil, ErrInvalidTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := table[patch.JobID]
	if !ok {
		job := newJobFromPatch(patch, r.now())
		table[patch.JobID] = job
		return cloneJob(job), nil
	}

	if existing.OwnerID != patch.OwnerID {
		return nil, ErrDuplicateJobID
	}
	if !domain.CanTransition(existing.Status, patch.Status) {
		return nil, ErrInvalidTransition
	}

	applyPatch(existing, patch, r.now())
	return cloneJob(existing), nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, kind domain.JobKind, jobID string) (*domain.Job, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := table[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) JobExists(ctx context.Context, kind domain.JobKind, jobID string) (bool, error) {
	_, err := r.GetJob(ctx, kind, jobID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MemoryJobsRepository) FindOwned(
	ctx context.Context,
	kind domain.JobKind,
	jobID string,
	ownerID string,
) (*domain.Job, error) {
	job, err := r.GetJob(ctx, kind, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return job, nil
}

func (r *MemoryJobsRepository) ListByOwner(_ context.Context, filter domain.JobListFilter) ([]domain.Job, error) {
	table, err := r.table(filter.Kind)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Job, 0)
	for _, job := range table {
		if job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		items = append(items, *cloneJob(job))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *MemoryJobsRepository) table(kind domain.JobKind) (map[string]*domain.Job, error) {
	table, ok := r.jobs[kind]
	if !ok {
		return nil, ErrNotFound
	}
	return table, nil
}

func newJobFromPatch(patch domain.ResultPatch, now time.Time) *domain.Job {
	createdAt := patch.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	job := &domain.Job{
		ID:           patch.JobID,
		Kind:         patch.Kind,
		OwnerID:      patch.OwnerID,
		Status:       domain.JobStatusProcessing,
		Input:        append([]byte(nil), patch.Input...),
		InputSummary: patch.InputSummary,
		CreatedAt:    createdAt,
	}
	applyPatch(job, patch, now)
	return job
}

// applyPatch replaces every mutable field. CompletedAt is kept once set so a
// repeated write leaves the record unchanged.
func applyPatch(job *domain.Job, patch domain.ResultPatch, now time.Time) {
	job.Status = patch.Status
	job.Results = append([]byte(nil), patch.Results...)
	job.ErrorMessage = patch.ErrorMessage
	if job.CompletedAt == nil {
		completedAt := patch.CompletedAt
		if completedAt.IsZero() {
			completedAt = now
		}
		job.CompletedAt = &completedAt
	}
	job.ExecutionTimeMS = executionTime(job.CreatedAt, *job.CompletedAt)
	job.UpdatedAt = *job.CompletedAt
}

func executionTime(createdAt, completedAt time.Time) int64 {
	elapsed := completedAt.Sub(createdAt).Milliseconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Input = append([]byte(nil), job.Input...)
	clone.Results = append([]byte(nil), job.Results...)
	if job.CompletedAt != nil {
		completedAt := *job.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}
