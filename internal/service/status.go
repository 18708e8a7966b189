package service

import (
	"context"

	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/repository"
)

// StatusService is the read-only query surface the client poller hits.
// It is deliberately non-authoritative: reads may lag concurrent
// callback writes, and the store remains the source of truth.
type StatusService struct {
	repo repository.JobsRepository
}

func NewStatusService(repo repository.JobsRepository) *StatusService {
	return &StatusService{repo: repo}
}

func (s *StatusService) BatchByID(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

func (s *StatusService) BatchesForSession(ctx context.Context, sessionID string) ([]*domain.Batch, error) {
	return s.repo.ListBatchesForSession(ctx, sessionID)
}

func (s *StatusService) BatchesForCreator(ctx context.Context, createdBy string) ([]*domain.Batch, error) {
	return s.repo.ListBatchesForCreator(ctx, createdBy)
}

func (s *StatusService) ActiveBatches(ctx context.Context) ([]*domain.Batch, error) {
	return s.repo.ListActiveBatches(ctx)
}

func (s *StatusService) JobsForBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	return s.repo.ListJobsForBatch(ctx, batchID)
}

func (s *StatusService) JobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *StatusService) DeadLetters(ctx context.Context, batchID string) ([]domain.DeadLetterEntry, error) {
	return s.repo.ListDeadLetters(ctx, batchID)
}
