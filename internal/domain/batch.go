package domain

import "time"

type BatchStatus string

const (
	BatchStatusPending        BatchStatus = "pending"
	BatchStatusInProgress     BatchStatus = "in_progress"
	BatchStatusCompleted      BatchStatus = "completed"
	BatchStatusPartialFailure BatchStatus = "partial_failure"
	BatchStatusFailed         BatchStatus = "failed"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusPartialFailure || s == BatchStatusFailed
}

// BatchType records what kind of scheduling produced a batch.
type BatchType string

const (
	BatchTypeSessionNotifications BatchType = "session-notifications"
	BatchTypeManual               BatchType = "manual"
)

// Batch groups the per-recipient jobs created together for one
// triggering session event. Counts and status are derived from the
// jobs by the progress aggregator; nothing else writes them.
type Batch struct {
	ID        string
	SessionID string
	Type      BatchType
	CreatedBy string
	Total     int
	Completed int
	Failed    int
	Status    BatchStatus
	JobIDs    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	clone := *b
	clone.JobIDs = append([]string(nil), b.JobIDs...)
	return &clone
}

// AggregateProgress derives a batch roll-up from its jobs.
// completed: every job completed. failed: every job failed.
// partial_failure: all jobs terminal, some of each. Otherwise
// in_progress once any job has left pending, else pending.
func AggregateProgress(jobs []*Job) (status BatchStatus, completed, failed int) {
	started := false
	for _, job := range jobs {
		switch job.Status {
		case JobStatusCompleted:
			completed++
			started = true
		case JobStatusFailed:
			failed++
			started = true
		case JobStatusScheduled, JobStatusInProgress:
			started = true
		}
	}

	total := len(jobs)
	switch {
	case total == 0:
		status = BatchStatusPending
	case completed == total:
		status = BatchStatusCompleted
	case failed == total:
		status = BatchStatusFailed
	case completed+failed == total:
		status = BatchStatusPartialFailure
	case started:
		status = BatchStatusInProgress
	default:
		status = BatchStatusPending
	}
	return status, completed, failed
}
