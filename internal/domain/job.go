package domain

import "time"

type NotificationType string

const (
	NotificationPrep48h           NotificationType = "prep-48h"
	NotificationPrep24h           NotificationType = "prep-24h"
	NotificationImmediateFeedback NotificationType = "immediate-feedback"
	NotificationFollowup24h       NotificationType = "followup-24h"
)

// NotificationTypes lists every schedulable type in send order.
var NotificationTypes = []NotificationType{
	NotificationPrep48h,
	NotificationPrep24h,
	NotificationImmediateFeedback,
	NotificationFollowup24h,
}

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationPrep48h, NotificationPrep24h, NotificationImmediateFeedback, NotificationFollowup24h:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusInProgress is reserved for the delivery-worker boundary:
	// a worker that accepts a group for sending may report it through a
	// callback before the final outcome arrives. Nothing in this
	// service sets it; the transition rules accept it so such callbacks
	// are applied, not rejected.
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Metadata keys recorded on jobs as delivery progresses.
const (
	MetaExternalMessageID = "external_message_id"
	MetaProviderMessageID = "provider_message_id"
	MetaLastError         = "last_error"
)

// Job is one trackable, individually addressed scheduled notification delivery.
type Job struct {
	ID             string
	BatchID        string
	SessionID      string
	Type           NotificationType
	RecipientEmail string
	RecipientName  string
	ScheduledFor   time.Time
	Status         JobStatus
	Attempts       int
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransition reports whether a job may move between two statuses.
// Transitions are monotonic: pending → scheduled → in_progress → terminal.
// The only backward edge is failed → pending, taken by an explicit retry.
// Re-applying the current status is always allowed so duplicate callbacks
// stay no-ops instead of errors.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusScheduled || to == JobStatusInProgress || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusScheduled:
		return to == JobStatusInProgress || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusInProgress:
		return to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusFailed:
		return to == JobStatusPending
	}
	return false
}

func (j *Job) ExternalMessageID() string {
	if j.Metadata == nil {
		return ""
	}
	return j.Metadata[MetaExternalMessageID]
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Metadata != nil {
		clone.Metadata = make(map[string]string, len(j.Metadata))
		for key, value := range j.Metadata {
			clone.Metadata[key] = value
		}
	}
	return &clone
}
