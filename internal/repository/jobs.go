package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/praxislabs/session-notifier/internal/domain"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidState = errors.New("invalid job state transition")
)

// JobStatusUpdate is one element of a bulk status change. Bulk updates
// exist so fan-out callbacks can apply every per-job result in a single
// call instead of racing read-modify-write rounds against each other.
type JobStatusUpdate struct {
	JobID    string
	Status   domain.JobStatus
	Metadata map[string]string
}

// JobsRepository abstracts durable persistence for jobs, batches and
// dead-letter entries. It is the coordination point for all concurrent
// writers; no other shared mutable state exists in the process.
type JobsRepository interface {
	CreateBatch(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) error
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	ListBatchesForSession(ctx context.Context, sessionID string) ([]*domain.Batch, error)
	ListBatchesForCreator(ctx context.Context, createdBy string) ([]*domain.Batch, error)
	ListActiveBatches(ctx context.Context) ([]*domain.Batch, error)
	DeleteBatch(ctx context.Context, batchID string) error

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsForBatch(ctx context.Context, batchID string) ([]*domain.Job, error)
	// UpdateJobStatus applies one transition plus a metadata patch.
	// Re-applying the current status is a no-op (changed=false); an
	// illegal transition returns ErrInvalidState.
	UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, metadata map[string]string) (job *domain.Job, changed bool, err error)
	// BulkUpdateJobStatuses applies a list of per-job changes together.
	// Illegal transitions and unknown jobs are skipped, not fatal; the
	// returned slice holds the IDs whose status actually changed.
	BulkUpdateJobStatuses(ctx context.Context, updates []JobStatusUpdate) ([]string, error)
	RetryJob(ctx context.Context, jobID string) (*domain.Job, error)
	ResendJob(ctx context.Context, jobID string) (*domain.Job, error)
	// ListStalledJobs returns jobs whose send time passed without a
	// delivery outcome: pending jobs never published (a crash between
	// persist and publish) and scheduled jobs still not terminal (a
	// published message whose outcome callback was lost).
	ListStalledJobs(ctx context.Context, scheduledBefore time.Time) ([]*domain.Job, error)

	UpdateBatchProgress(ctx context.Context, batchID string, status domain.BatchStatus, completed, failed int) error

	AddDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error
	ListDeadLetters(ctx context.Context, batchID string) ([]domain.DeadLetterEntry, error)
}

// MemoryJobsRepository stores everything in memory for local development
// and tests. Semantics mirror the Postgres implementation.
type MemoryJobsRepository struct {
	mu          sync.RWMutex
	jobs        map[string]*domain.Job
	batches     map[string]*domain.Batch
	deadLetters []domain.DeadLetterEntry
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:        make(map[string]*domain.Job),
		batches:     make(map[string]*domain.Batch),
		deadLetters: make([]domain.DeadLetterEntry, 0),
	}
}

func (r *MemoryJobsRepository) CreateBatch(_ context.Context, batch *domain.Batch, jobs []*domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches[batch.ID] = batch.Clone()
	for _, job := range jobs {
		r.jobs[job.ID] = job.Clone()
	}
	return nil
}

func (r *MemoryJobsRepository) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	return batch.Clone(), nil
}

func (r *MemoryJobsRepository) ListBatchesForSession(_ context.Context, sessionID string) ([]*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filterBatches(func(batch *domain.Batch) bool {
		return batch.SessionID == sessionID
	}), nil
}

func (r *MemoryJobsRepository) ListBatchesForCreator(_ context.Context, createdBy string) ([]*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filterBatches(func(batch *domain.Batch) bool {
		return batch.CreatedBy == createdBy
	}), nil
}

func (r *MemoryJobsRepository) ListActiveBatches(_ context.Context) ([]*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filterBatches(func(batch *domain.Batch) bool {
		return !batch.Status.Terminal()
	}), nil
}

func (r *MemoryJobsRepository) filterBatches(keep func(*domain.Batch) bool) []*domain.Batch {
	batches := make([]*domain.Batch, 0)
	for _, batch := range r.batches {
		if keep(batch) {
			batches = append(batches, batch.Clone())
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	return batches
}

func (r *MemoryJobsRepository) DeleteBatch(_ context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[batchID]; !ok {
		return ErrNotFound
	}
	delete(r.batches, batchID)
	for id, job := range r.jobs {
		if job.BatchID == batchID {
			delete(r.jobs, id)
		}
	}
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) ListJobsForBatch(_ context.Context, batchID string) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.BatchID == batchID {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

func (r *MemoryJobsRepository) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status domain.JobStatus,
	metadata map[string]string,
) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !domain.CanTransition(job.Status, status) {
		return nil, false, ErrInvalidState
	}

	changed := job.Status != status
	applyJobUpdate(job, status, metadata)
	return job.Clone(), changed, nil
}

func (r *MemoryJobsRepository) BulkUpdateJobStatuses(
	_ context.Context,
	updates []JobStatusUpdate,
) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changedIDs := make([]string, 0, len(updates))
	for _, update := range updates {
		job, ok := r.jobs[update.JobID]
		if !ok {
			continue
		}
		if !domain.CanTransition(job.Status, update.Status) {
			continue
		}
		if job.Status != update.Status {
			changedIDs = append(changedIDs, job.ID)
		}
		applyJobUpdate(job, update.Status, update.Metadata)
	}
	return changedIDs, nil
}

func (r *MemoryJobsRepository) RetryJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != domain.JobStatusFailed {
		return nil, ErrInvalidState
	}

	job.Status = domain.JobStatusPending
	job.Attempts++
	if job.Metadata != nil {
		delete(job.Metadata, domain.MetaExternalMessageID)
	}
	job.UpdatedAt = time.Now().UTC()
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) ResendJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if source.Status != domain.JobStatusCompleted {
		return nil, ErrInvalidState
	}

	now := time.Now().UTC()
	clone := source.Clone()
	clone.ID = uuid.NewString()
	clone.Status = domain.JobStatusPending
	clone.Attempts = 0
	clone.Metadata = map[string]string{}
	clone.CreatedAt = now
	clone.UpdatedAt = now
	r.jobs[clone.ID] = clone

	if batch, ok := r.batches[clone.BatchID]; ok {
		batch.JobIDs = append(batch.JobIDs, clone.ID)
		batch.Total = len(batch.JobIDs)
		batch.UpdatedAt = now
	}
	return clone.Clone(), nil
}

func (r *MemoryJobsRepository) ListStalledJobs(_ context.Context, scheduledBefore time.Time) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if !job.ScheduledFor.Before(scheduledBefore) {
			continue
		}
		unpublished := job.Status == domain.JobStatusPending && job.ExternalMessageID() == ""
		overdue := job.Status == domain.JobStatusScheduled
		if unpublished || overdue {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ScheduledFor.Before(jobs[j].ScheduledFor)
	})
	return jobs, nil
}

func (r *MemoryJobsRepository) UpdateBatchProgress(
	_ context.Context,
	batchID string,
	status domain.BatchStatus,
	completed int,
	failed int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.Status = status
	batch.Completed = completed
	batch.Failed = failed
	batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) AddDeadLetter(_ context.Context, entry domain.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append(r.deadLetters, entry)
	return nil
}

func (r *MemoryJobsRepository) ListDeadLetters(_ context.Context, batchID string) ([]domain.DeadLetterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]domain.DeadLetterEntry, 0)
	for _, entry := range r.deadLetters {
		if batchID != "" && entry.BatchID != batchID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func applyJobUpdate(job *domain.Job, status domain.JobStatus, metadata map[string]string) {
	job.Status = status
	if len(metadata) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]string, len(metadata))
		}
		for key, value := range metadata {
			job.Metadata[key] = value
		}
	}
	job.UpdatedAt = time.Now().UTC()
}
