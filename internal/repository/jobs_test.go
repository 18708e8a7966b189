package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
)

func seedBatch(t *testing.T, repo *MemoryJobsRepository, batchID string, statuses ...domain.JobStatus) []*domain.Job {
	t.Helper()
	now := time.Now().UTC()
	jobs := make([]*domain.Job, 0, len(statuses))
	jobIDs := make([]string, 0, len(statuses))
	for i, status := range statuses {
		job := &domain.Job{
			ID:             batchID + "-job-" + string(rune('a'+i)),
			BatchID:        batchID,
			SessionID:      "session-1",
			Type:           domain.NotificationPrep24h,
			RecipientEmail: "person@example.com",
			ScheduledFor:   now.Add(time.Hour),
			Status:         status,
			Metadata:       map[string]string{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		jobs = append(jobs, job)
		jobIDs = append(jobIDs, job.ID)
	}
	batch := &domain.Batch{
		ID:        batchID,
		SessionID: "session-1",
		Type:      domain.BatchTypeSessionNotifications,
		Status:    domain.BatchStatusPending,
		Total:     len(jobs),
		JobIDs:    jobIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateBatch(context.Background(), batch, jobs); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return jobs
}

func TestUpdateJobStatusDuplicateIsNoOp(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusCompleted)

	job, changed, err := repo.UpdateJobStatus(context.Background(), jobs[0].ID, domain.JobStatusCompleted, nil)
	if err != nil {
		t.Fatalf("duplicate completed must not error: %v", err)
	}
	if changed {
		t.Fatalf("duplicate completed must report changed=false")
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
}

func TestUpdateJobStatusRejectsTerminalRegression(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusCompleted)

	_, _, err := repo.UpdateJobStatus(context.Background(), jobs[0].ID, domain.JobStatusFailed, nil)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestUpdateJobStatusMergesMetadata(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusPending)

	_, _, err := repo.UpdateJobStatus(context.Background(), jobs[0].ID, domain.JobStatusScheduled,
		map[string]string{domain.MetaExternalMessageID: "msg-1"})
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	job, _, err := repo.UpdateJobStatus(context.Background(), jobs[0].ID, domain.JobStatusCompleted,
		map[string]string{domain.MetaProviderMessageID: "prov-1"})
	if err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	if job.Metadata[domain.MetaExternalMessageID] != "msg-1" {
		t.Fatalf("expected earlier metadata to survive the merge")
	}
	if job.Metadata[domain.MetaProviderMessageID] != "prov-1" {
		t.Fatalf("expected new metadata to be recorded")
	}
}

func TestBulkUpdateReturnsOnlyChangedIDs(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1",
		domain.JobStatusInProgress, // will complete
		domain.JobStatusCompleted,  // duplicate, no change
		domain.JobStatusCompleted,  // illegal, skipped
	)

	changed, err := repo.BulkUpdateJobStatuses(context.Background(), []JobStatusUpdate{
		{JobID: jobs[0].ID, Status: domain.JobStatusCompleted},
		{JobID: jobs[1].ID, Status: domain.JobStatusCompleted},
		{JobID: jobs[2].ID, Status: domain.JobStatusFailed},
		{JobID: "missing", Status: domain.JobStatusFailed},
	})
	if err != nil {
		t.Fatalf("BulkUpdateJobStatuses: %v", err)
	}
	if len(changed) != 1 || changed[0] != jobs[0].ID {
		t.Fatalf("changed = %v, want [%s]", changed, jobs[0].ID)
	}

	// The illegal update must not have regressed the terminal job.
	job, err := repo.GetJob(context.Background(), jobs[2].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal job regressed to %s", job.Status)
	}
}

func TestRetryJobReopensOnlyFailed(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusFailed, domain.JobStatusCompleted)

	_, _, err := repo.UpdateJobStatus(context.Background(), jobs[0].ID, domain.JobStatusFailed,
		map[string]string{domain.MetaExternalMessageID: "msg-old"})
	if err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	retried, err := repo.RetryJob(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", retried.Status)
	}
	if retried.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", retried.Attempts)
	}
	if retried.ExternalMessageID() != "" {
		t.Fatalf("expected stale external message id to be cleared")
	}

	if _, err := repo.RetryJob(context.Background(), jobs[1].ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry of completed job: got %v, want ErrInvalidState", err)
	}
}

func TestResendJobCreatesFreshJobInSameBatch(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusCompleted)

	resent, err := repo.ResendJob(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("ResendJob: %v", err)
	}
	if resent.ID == jobs[0].ID {
		t.Fatalf("resend must mint a new job id")
	}
	if resent.Status != domain.JobStatusPending || resent.Attempts != 0 {
		t.Fatalf("resent job not fresh: status=%s attempts=%d", resent.Status, resent.Attempts)
	}

	original, err := repo.GetJob(context.Background(), jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if original.Status != domain.JobStatusCompleted {
		t.Fatalf("original job must stay completed, got %s", original.Status)
	}

	batch, err := repo.GetBatch(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Total != 2 || len(batch.JobIDs) != 2 {
		t.Fatalf("batch not extended: total=%d job_ids=%d", batch.Total, len(batch.JobIDs))
	}
}

func TestListStalledJobsFindsUnpublishedPastJobs(t *testing.T) {
	repo := NewMemoryJobsRepository()
	now := time.Now().UTC()
	jobs := []*domain.Job{
		{ID: "stalled", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusPending,
			ScheduledFor: now.Add(-10 * time.Minute), Metadata: map[string]string{}},
		{ID: "published", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusPending,
			ScheduledFor: now.Add(-10 * time.Minute),
			Metadata:     map[string]string{domain.MetaExternalMessageID: "msg-1"}},
		{ID: "future", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusPending,
			ScheduledFor: now.Add(time.Hour), Metadata: map[string]string{}},
		{ID: "done", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusCompleted,
			ScheduledFor: now.Add(-10 * time.Minute), Metadata: map[string]string{}},
		// Published, consumed by the queue, but no outcome ever came back.
		{ID: "orphaned", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusScheduled,
			ScheduledFor: now.Add(-5 * time.Minute),
			Metadata:     map[string]string{domain.MetaExternalMessageID: "msg-2"}},
		{ID: "awaiting", BatchID: "b1", SessionID: "s1", Status: domain.JobStatusScheduled,
			ScheduledFor: now.Add(time.Hour),
			Metadata:     map[string]string{domain.MetaExternalMessageID: "msg-3"}},
	}
	batch := &domain.Batch{ID: "b1", SessionID: "s1", Status: domain.BatchStatusPending,
		JobIDs: []string{"stalled", "published", "future", "done", "orphaned", "awaiting"}, Total: 6}
	if err := repo.CreateBatch(context.Background(), batch, jobs); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	stalled, err := repo.ListStalledJobs(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListStalledJobs: %v", err)
	}
	if len(stalled) != 2 || stalled[0].ID != "stalled" || stalled[1].ID != "orphaned" {
		t.Fatalf("stalled = %v, want the unpublished past job and the overdue scheduled job", stalled)
	}
}

func TestDeleteBatchRemovesJobs(t *testing.T) {
	repo := NewMemoryJobsRepository()
	jobs := seedBatch(t, repo, "b1", domain.JobStatusPending, domain.JobStatusPending)

	if err := repo.DeleteBatch(context.Background(), "b1"); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := repo.GetBatch(context.Background(), "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected batch gone, got %v", err)
	}
	if _, err := repo.GetJob(context.Background(), jobs[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected jobs gone, got %v", err)
	}
}

func TestListDeadLettersFiltersByBatch(t *testing.T) {
	repo := NewMemoryJobsRepository()
	for _, batchID := range []string{"b1", "b2", "b1"} {
		entry := domain.DeadLetterEntry{ID: batchID + "-dl", JobID: "j", BatchID: batchID,
			ErrorMessage: "provider timeout", FailedAt: time.Now().UTC()}
		if err := repo.AddDeadLetter(context.Background(), entry); err != nil {
			t.Fatalf("AddDeadLetter: %v", err)
		}
	}

	all, err := repo.ListDeadLetters(context.Background(), "")
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	filtered, err := repo.ListDeadLetters(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("len(filtered) = %d, want 2", len(filtered))
	}
}
