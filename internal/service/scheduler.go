package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/repository"
)

// ErrBatchExists is returned when scheduling would duplicate an active
// batch for the same session and the caller did not pass force.
var ErrBatchExists = errors.New("active batch already exists for session")

type SchedulerConfig struct {
	WorkerURL          string
	CallbackURL        string
	FailureCallbackURL string
	Retry              queue.RetryPolicy
	FlowControl        queue.FlowControl
}

// ScheduleResult reports what one scheduling call produced.
type ScheduleResult struct {
	BatchID  string
	JobCount int
}

// SchedulerService converts session events into persisted batches of
// notification jobs plus delayed-delivery submissions to the queue.
// Persist and publish are deliberately not atomic: a job left pending
// without an external message id is the detectable interrupted state
// the reconciliation sweep repairs.
type SchedulerService struct {
	repo       repository.JobsRepository
	publisher  queue.Publisher
	aggregator *Aggregator
	logger     *log.Logger
	config     SchedulerConfig
}

func NewSchedulerService(
	repo repository.JobsRepository,
	publisher queue.Publisher,
	aggregator *Aggregator,
	logger *log.Logger,
	config SchedulerConfig,
) *SchedulerService {
	return &SchedulerService{
		repo:       repo,
		publisher:  publisher,
		aggregator: aggregator,
		logger:     logger,
		config:     config,
	}
}

// ScheduleSessionNotifications derives one job per eligible
// (notification type, recipient) pair and submits one delayed message
// per (type, target time) group. A nil result with nil error is a
// normal skip: the event is already past, has no recipients, or has no
// timing data. Callers must not treat it as a failure.
func (s *SchedulerService) ScheduleSessionNotifications(
	ctx context.Context,
	event domain.SessionEvent,
	createdBy string,
	force bool,
) (*ScheduleResult, error) {
	if event.SessionID == "" || event.StartTime.IsZero() || len(event.Recipients) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	eligible := make([]domain.NotificationType, 0, len(domain.NotificationTypes))
	for _, notificationType := range domain.NotificationTypes {
		target := domain.TargetSendTime(notificationType, event.StartTime, event.Duration)
		if target.After(now) {
			eligible = append(eligible, notificationType)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	active, err := s.repo.ListBatchesForSession(ctx, event.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check existing batches: %w", err)
	}
	for _, batch := range active {
		if batch.Status.Terminal() {
			continue
		}
		if !force {
			return nil, ErrBatchExists
		}
		if err := s.dropBatch(ctx, batch); err != nil {
			return nil, err
		}
	}

	batchID := uuid.NewString()
	jobs := make([]*domain.Job, 0, len(eligible)*len(event.Recipients))
	for _, notificationType := range eligible {
		target := domain.TargetSendTime(notificationType, event.StartTime, event.Duration)
		for _, recipient := range event.Recipients {
			jobs = append(jobs, &domain.Job{
				ID:             uuid.NewString(),
				BatchID:        batchID,
				SessionID:      event.SessionID,
				Type:           notificationType,
				RecipientEmail: recipient.Email,
				RecipientName:  recipient.Name,
				ScheduledFor:   target,
				Status:         domain.JobStatusPending,
				Metadata:       map[string]string{},
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
	}

	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		jobIDs = append(jobIDs, job.ID)
	}
	batch := &domain.Batch{
		ID:        batchID,
		SessionID: event.SessionID,
		Type:      domain.BatchTypeSessionNotifications,
		CreatedBy: createdBy,
		Total:     len(jobs),
		Status:    domain.BatchStatusPending,
		JobIDs:    jobIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	for _, group := range groupJobs(jobs) {
		if err := s.publishGroup(ctx, batchID, event.SessionID, group); err != nil {
			// The group stays pending without an external message id;
			// the reconciliation sweep will re-publish it.
			if s.logger != nil {
				s.logger.Printf(
					"publish failed batch_id=%s session_id=%s type=%s jobs=%d err=%v",
					batchID, event.SessionID, group.notificationType, len(group.jobs), err,
				)
			}
		}
	}

	if _, err := s.aggregator.Recompute(ctx, batchID); err != nil && s.logger != nil {
		s.logger.Printf("recompute after schedule failed batch_id=%s err=%v", batchID, err)
	}
	return &ScheduleResult{BatchID: batchID, JobCount: len(jobs)}, nil
}

type jobGroup struct {
	notificationType domain.NotificationType
	target           time.Time
	jobs             []*domain.Job
}

// groupJobs buckets jobs by (batch, type, target time) so one queue
// message fans out to every recipient of the group, bounding outbound
// calls. The batch key keeps reconciliation from merging unrelated
// batches that happen to share a send time.
func groupJobs(jobs []*domain.Job) []jobGroup {
	type key struct {
		batchID          string
		notificationType domain.NotificationType
		target           int64
	}
	buckets := make(map[key]*jobGroup)
	order := make([]key, 0)
	for _, job := range jobs {
		k := key{batchID: job.BatchID, notificationType: job.Type, target: job.ScheduledFor.Unix()}
		group, ok := buckets[k]
		if !ok {
			group = &jobGroup{notificationType: job.Type, target: job.ScheduledFor}
			buckets[k] = group
			order = append(order, k)
		}
		group.jobs = append(group.jobs, job)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].target != order[j].target {
			return order[i].target < order[j].target
		}
		if order[i].batchID != order[j].batchID {
			return order[i].batchID < order[j].batchID
		}
		return order[i].notificationType < order[j].notificationType
	})
	groups := make([]jobGroup, 0, len(buckets))
	for _, k := range order {
		groups = append(groups, *buckets[k])
	}
	return groups
}

func (s *SchedulerService) publishGroup(
	ctx context.Context,
	batchID string,
	sessionID string,
	group jobGroup,
) error {
	envelope := queue.NewBatchEnvelope(batchID, sessionID, group.notificationType, group.jobs)
	body, err := envelope.Encode()
	if err != nil {
		return err
	}

	delay := time.Until(group.target)
	if delay < 0 {
		delay = 0
	}
	messageID, err := s.publisher.Publish(ctx, queue.PublishRequest{
		WorkerURL: s.config.WorkerURL,
		Body:      body,
		Headers: map[string]string{
			queue.HeaderBatchID:     batchID,
			queue.HeaderSessionID:   sessionID,
			queue.HeaderMessageType: string(group.notificationType),
		},
		Delay:              delay,
		Retry:              s.config.Retry,
		FlowControl:        s.config.FlowControl,
		CallbackURL:        s.config.CallbackURL,
		FailureCallbackURL: s.config.FailureCallbackURL,
	})
	if err != nil {
		return err
	}

	updates := make([]repository.JobStatusUpdate, 0, len(group.jobs))
	for _, job := range group.jobs {
		updates = append(updates, repository.JobStatusUpdate{
			JobID:    job.ID,
			Status:   domain.JobStatusScheduled,
			Metadata: map[string]string{domain.MetaExternalMessageID: messageID},
		})
	}
	if _, err := s.repo.BulkUpdateJobStatuses(ctx, updates); err != nil {
		return fmt.Errorf("mark group scheduled: %w", err)
	}
	return nil
}

// ScheduleSingleJob publishes one job as its own delayed message. Used
// by manual retry and resend.
func (s *SchedulerService) ScheduleSingleJob(ctx context.Context, job *domain.Job) error {
	envelope := queue.NewSingleEnvelope(job)
	body, err := envelope.Encode()
	if err != nil {
		return err
	}

	delay := time.Until(job.ScheduledFor)
	if delay < 0 {
		delay = 0
	}
	messageID, err := s.publisher.Publish(ctx, queue.PublishRequest{
		WorkerURL: s.config.WorkerURL,
		Body:      body,
		Headers: map[string]string{
			queue.HeaderBatchID:     job.BatchID,
			queue.HeaderSessionID:   job.SessionID,
			queue.HeaderMessageType: string(job.Type),
		},
		Delay:              delay,
		Retry:              s.config.Retry,
		FlowControl:        s.config.FlowControl,
		CallbackURL:        s.config.CallbackURL,
		FailureCallbackURL: s.config.FailureCallbackURL,
	})
	if err != nil {
		return err
	}

	_, _, err = s.repo.UpdateJobStatus(ctx, job.ID, domain.JobStatusScheduled, map[string]string{
		domain.MetaExternalMessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("mark job scheduled: %w", err)
	}
	if _, err := s.aggregator.Recompute(ctx, job.BatchID); err != nil && s.logger != nil {
		s.logger.Printf("recompute after single schedule failed batch_id=%s err=%v", job.BatchID, err)
	}
	return nil
}

// RetryJob resets a failed job to pending and republishes it under the
// same job id with attempts incremented.
func (s *SchedulerService) RetryJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.repo.RetryJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.ScheduleSingleJob(ctx, job); err != nil {
		return nil, err
	}
	return s.repo.GetJob(ctx, jobID)
}

// ResendJob clones a completed job under a new id and publishes the
// clone; the original is never transitioned.
func (s *SchedulerService) ResendJob(ctx context.Context, jobID string) (*domain.Job, error) {
	clone, err := s.repo.ResendJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.ScheduleSingleJob(ctx, clone); err != nil {
		return nil, err
	}
	return s.repo.GetJob(ctx, clone.ID)
}

func (s *SchedulerService) dropBatch(ctx context.Context, batch *domain.Batch) error {
	jobs, err := s.repo.ListJobsForBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list jobs for forced reschedule: %w", err)
	}
	cancelled := make(map[string]bool)
	for _, job := range jobs {
		messageID := job.ExternalMessageID()
		if messageID == "" || job.Status.Terminal() || cancelled[messageID] {
			continue
		}
		cancelled[messageID] = true
		if err := s.publisher.Cancel(ctx, messageID); err != nil && s.logger != nil {
			s.logger.Printf("cancel message failed batch_id=%s message_id=%s err=%v", batch.ID, messageID, err)
		}
	}
	if err := s.repo.DeleteBatch(ctx, batch.ID); err != nil {
		return fmt.Errorf("delete batch for forced reschedule: %w", err)
	}
	return nil
}

// EventFailure records one event whose scheduling failed during a bulk run.
type EventFailure struct {
	SessionID string
	Err       error
}

// ScheduleMany schedules a set of events, isolating per-event failures:
// one broken event never aborts the rest.
func (s *SchedulerService) ScheduleMany(
	ctx context.Context,
	events []domain.SessionEvent,
	createdBy string,
) ([]ScheduleResult, []EventFailure) {
	results := make([]ScheduleResult, 0, len(events))
	failures := make([]EventFailure, 0)
	for _, event := range events {
		result, err := s.ScheduleSessionNotifications(ctx, event, createdBy, false)
		if err != nil {
			failures = append(failures, EventFailure{SessionID: event.SessionID, Err: err})
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, failures
}

// ReconcileStalled republishes jobs whose send time passed more than
// grace ago without reaching a terminal status: pending jobs with no
// external message id (a crash between persist and publish) and
// scheduled jobs the queue consumed without ever reporting an outcome.
// Republishing can deliver a group twice; the duplicate callback is a
// no-op downstream, whereas a lost outcome would strand the batch.
func (s *SchedulerService) ReconcileStalled(ctx context.Context, grace time.Duration) (int, error) {
	stalled, err := s.repo.ListStalledJobs(ctx, time.Now().UTC().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("list stalled jobs: %w", err)
	}
	if len(stalled) == 0 {
		return 0, nil
	}

	republished := 0
	batchIDs := make(map[string]bool)
	for _, group := range groupJobs(stalled) {
		batchID := group.jobs[0].BatchID
		sessionID := group.jobs[0].SessionID
		if err := s.publishGroup(ctx, batchID, sessionID, group); err != nil {
			if s.logger != nil {
				s.logger.Printf("reconcile republish failed batch_id=%s type=%s err=%v", batchID, group.notificationType, err)
			}
			continue
		}
		republished += len(group.jobs)
		batchIDs[batchID] = true
	}
	for batchID := range batchIDs {
		if _, err := s.aggregator.Recompute(ctx, batchID); err != nil && s.logger != nil {
			s.logger.Printf("recompute after reconcile failed batch_id=%s err=%v", batchID, err)
		}
	}
	return republished, nil
}
