package domain

import "time"

// DeadLetterEntry is an immutable snapshot of a job that exhausted its
// delivery attempts. Entries are append-only audit records; nothing in
// normal operation mutates or deletes them.
type DeadLetterEntry struct {
	ID             string
	JobID          string
	BatchID        string
	SessionID      string
	Type           NotificationType
	RecipientEmail string
	Attempts       int
	ErrorMessage   string
	FailedAt       time.Time
}

func NewDeadLetterEntry(id string, job *Job, errorMessage string, failedAt time.Time) DeadLetterEntry {
	return DeadLetterEntry{
		ID:             id,
		JobID:          job.ID,
		BatchID:        job.BatchID,
		SessionID:      job.SessionID,
		Type:           job.Type,
		RecipientEmail: job.RecipientEmail,
		Attempts:       job.Attempts,
		ErrorMessage:   errorMessage,
		FailedAt:       failedAt,
	}
}
