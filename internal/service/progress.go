package service

import (
	"context"
	"fmt"

	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/repository"
)

// Aggregator owns the batch status field: it recomputes the roll-up
// from the jobs after every job mutation and writes it back. Keeping
// the derivation in one place means a drifted batch can always be
// repaired by recomputing.
type Aggregator struct {
	repo repository.JobsRepository
}

func NewAggregator(repo repository.JobsRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

func (a *Aggregator) Recompute(ctx context.Context, batchID string) (*domain.Batch, error) {
	jobs, err := a.repo.ListJobsForBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for batch %s: %w", batchID, err)
	}

	status, completed, failed := domain.AggregateProgress(jobs)
	if err := a.repo.UpdateBatchProgress(ctx, batchID, status, completed, failed); err != nil {
		return nil, fmt.Errorf("write batch progress %s: %w", batchID, err)
	}
	return a.repo.GetBatch(ctx, batchID)
}

// RecalculateActive recomputes every non-terminal batch. Exposed as a
// maintenance operation to repair drift after aggregation logic changes.
func (a *Aggregator) RecalculateActive(ctx context.Context) (int, error) {
	batches, err := a.repo.ListActiveBatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active batches: %w", err)
	}
	for _, batch := range batches {
		if _, err := a.Recompute(ctx, batch.ID); err != nil {
			return 0, err
		}
	}
	return len(batches), nil
}
