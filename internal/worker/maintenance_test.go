package worker

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/repository"
	"github.com/praxislabs/session-notifier/internal/service"
)

func TestMaintenanceSweepRepublishesStalledJobs(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue()
	aggregator := service.NewAggregator(repo)
	scheduler := service.NewSchedulerService(repo, localQueue, aggregator, nil, service.SchedulerConfig{
		WorkerURL: "https://worker.example.com/send",
	})

	now := time.Now().UTC()
	jobs := []*domain.Job{{
		ID: "j1", BatchID: "b1", SessionID: "s1", Type: domain.NotificationPrep24h,
		RecipientEmail: "a@example.com", ScheduledFor: now.Add(-time.Hour),
		Status: domain.JobStatusPending, Metadata: map[string]string{},
	}}
	batch := &domain.Batch{ID: "b1", SessionID: "s1", Status: domain.BatchStatusPending,
		Total: 1, JobIDs: []string{"j1"}}
	if err := repo.CreateBatch(context.Background(), batch, jobs); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	maintenance := NewMaintenance(scheduler, aggregator, log.New(io.Discard, "", 0),
		10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go maintenance.Start(ctx)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetJob(context.Background(), "j1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == domain.JobStatusScheduled && job.ExternalMessageID() != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stalled job was never republished by the sweep")
}
