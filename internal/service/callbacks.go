package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/repository"
)

// CallbackService applies worker-reported delivery outcomes to the job
// store. Callbacks arrive at least once, out of order and possibly
// duplicated, so every path routes through the repository's transition
// checks: re-applied outcomes are no-ops and terminal jobs never
// regress. Dead letters are written only for transitions that actually
// happened, which keeps duplicates from double-recording failures.
type CallbackService struct {
	repo       repository.JobsRepository
	aggregator *Aggregator
	logger     *log.Logger
}

func NewCallbackService(repo repository.JobsRepository, aggregator *Aggregator, logger *log.Logger) *CallbackService {
	return &CallbackService{repo: repo, aggregator: aggregator, logger: logger}
}

// HandleSuccess processes a success callback: the worker ran and
// returned per-job results to classify. A result carrying a provider
// message id is a success; one carrying an error string is a failure.
func (s *CallbackService) HandleSuccess(ctx context.Context, callback queue.CallbackRequest) error {
	envelope, err := callback.DecodeSource()
	if err != nil {
		return fmt.Errorf("decode callback source: %w", err)
	}
	rawBody, err := callback.DecodeBody()
	if err != nil {
		return fmt.Errorf("decode callback body: %w", err)
	}
	response, _ := queue.DecodeWorkerResponse(rawBody)

	if envelope.Kind == queue.EnvelopeKindSingle {
		return s.applySingle(ctx, envelope, response, rawBody)
	}
	return s.applyBatch(ctx, envelope, response)
}

func (s *CallbackService) applySingle(
	ctx context.Context,
	envelope queue.Envelope,
	response queue.WorkerResponse,
	rawBody []byte,
) error {
	job := envelope.Jobs[0]
	if response.ProviderMessageID == "" && len(response.Results) == 1 && response.Results[0].Succeeded() {
		response.ProviderMessageID = response.Results[0].ProviderMessageID
	}

	if response.ProviderMessageID == "" {
		// The worker answered 2xx but reported no provider id; treat
		// the body as a failure so nothing is silently dropped.
		return s.failJobs(ctx, envelope, queue.ExtractErrorMessage(rawBody))
	}

	_, _, err := s.repo.UpdateJobStatus(ctx, job.JobID, domain.JobStatusCompleted, map[string]string{
		domain.MetaProviderMessageID: response.ProviderMessageID,
	})
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.JobID, err)
	}
	_, err = s.aggregator.Recompute(ctx, envelope.BatchID)
	return err
}

func (s *CallbackService) applyBatch(
	ctx context.Context,
	envelope queue.Envelope,
	response queue.WorkerResponse,
) error {
	resultsByJob := make(map[string]queue.JobResult, len(response.Results))
	for _, result := range response.Results {
		resultsByJob[result.JobID] = result
	}

	updates := make([]repository.JobStatusUpdate, 0, len(envelope.Jobs))
	failures := make(map[string]string)
	for _, envelopeJob := range envelope.Jobs {
		result, reported := resultsByJob[envelopeJob.JobID]
		switch {
		case reported && result.Succeeded():
			updates = append(updates, repository.JobStatusUpdate{
				JobID:    envelopeJob.JobID,
				Status:   domain.JobStatusCompleted,
				Metadata: map[string]string{domain.MetaProviderMessageID: result.ProviderMessageID},
			})
		case reported && result.Error != "":
			updates = append(updates, repository.JobStatusUpdate{
				JobID:    envelopeJob.JobID,
				Status:   domain.JobStatusFailed,
				Metadata: map[string]string{domain.MetaLastError: result.Error},
			})
			failures[envelopeJob.JobID] = result.Error
		case !reported && response.ProviderMessageID != "":
			// Legacy workers answer a grouped send with one provider id.
			updates = append(updates, repository.JobStatusUpdate{
				JobID:    envelopeJob.JobID,
				Status:   domain.JobStatusCompleted,
				Metadata: map[string]string{domain.MetaProviderMessageID: response.ProviderMessageID},
			})
		}
	}

	changedIDs, err := s.repo.BulkUpdateJobStatuses(ctx, updates)
	if err != nil {
		return fmt.Errorf("bulk update batch %s: %w", envelope.BatchID, err)
	}
	if err := s.deadLetterChanged(ctx, changedIDs, failures); err != nil {
		return err
	}

	_, err = s.aggregator.Recompute(ctx, envelope.BatchID)
	return err
}

// HandleFailure processes an exhausted-retries callback: every job in
// the group is marked failed and dead-lettered.
func (s *CallbackService) HandleFailure(ctx context.Context, callback queue.CallbackRequest) error {
	envelope, err := callback.DecodeSource()
	if err != nil {
		return fmt.Errorf("decode failure source: %w", err)
	}
	rawBody, err := callback.DecodeBody()
	if err != nil {
		return fmt.Errorf("decode failure body: %w", err)
	}
	return s.failJobs(ctx, envelope, queue.ExtractErrorMessage(rawBody))
}

func (s *CallbackService) failJobs(ctx context.Context, envelope queue.Envelope, errorMessage string) error {
	updates := make([]repository.JobStatusUpdate, 0, len(envelope.Jobs))
	failures := make(map[string]string, len(envelope.Jobs))
	for _, envelopeJob := range envelope.Jobs {
		updates = append(updates, repository.JobStatusUpdate{
			JobID:    envelopeJob.JobID,
			Status:   domain.JobStatusFailed,
			Metadata: map[string]string{domain.MetaLastError: errorMessage},
		})
		failures[envelopeJob.JobID] = errorMessage
	}

	changedIDs, err := s.repo.BulkUpdateJobStatuses(ctx, updates)
	if err != nil {
		return fmt.Errorf("bulk fail batch %s: %w", envelope.BatchID, err)
	}
	if err := s.deadLetterChanged(ctx, changedIDs, failures); err != nil {
		return err
	}

	_, err = s.aggregator.Recompute(ctx, envelope.BatchID)
	return err
}

func (s *CallbackService) deadLetterChanged(
	ctx context.Context,
	changedIDs []string,
	failures map[string]string,
) error {
	now := time.Now().UTC()
	for _, jobID := range changedIDs {
		errorMessage, failed := failures[jobID]
		if !failed {
			continue
		}
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load failed job %s: %w", jobID, err)
		}
		entry := domain.NewDeadLetterEntry(uuid.NewString(), job, errorMessage, now)
		if err := s.repo.AddDeadLetter(ctx, entry); err != nil {
			return fmt.Errorf("dead letter job %s: %w", jobID, err)
		}
		if s.logger != nil {
			s.logger.Printf(
				"job dead-lettered job_id=%s batch_id=%s session_id=%s type=%s recipient=%s attempts=%d failed_at=%s err=%q",
				job.ID, job.BatchID, job.SessionID, job.Type, job.RecipientEmail, job.Attempts,
				now.Format(time.RFC3339), errorMessage,
			)
		}
	}
	return nil
}
