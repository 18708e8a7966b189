package domain

import "time"

// RecipientRole distinguishes who a notification addresses within a session.
type RecipientRole string

const (
	RoleParticipant RecipientRole = "participant"
	RoleHost        RecipientRole = "host"
)

type Recipient struct {
	Email string
	Name  string
	Role  RecipientRole
}

// SessionEvent is the domain event the scheduler consumes. It is owned
// by the external session store; only the fields needed to derive
// recipients and send times are carried here.
type SessionEvent struct {
	SessionID  string
	StartTime  time.Time
	Duration   time.Duration
	Recipients []Recipient
}

// TargetSendTime maps a notification type to its send time, as a pure
// function of the session start and duration. Preparation reminders
// lead the start; feedback and follow-up trail the end.
func TargetSendTime(notificationType NotificationType, start time.Time, duration time.Duration) time.Time {
	end := start.Add(duration)
	switch notificationType {
	case NotificationPrep48h:
		return start.Add(-48 * time.Hour)
	case NotificationPrep24h:
		return start.Add(-24 * time.Hour)
	case NotificationImmediateFeedback:
		return end
	case NotificationFollowup24h:
		return end.Add(24 * time.Hour)
	}
	return time.Time{}
}
