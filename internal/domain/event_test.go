package domain

import (
	"testing"
	"time"
)

func TestTargetSendTime(t *testing.T) {
	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	duration := 90 * time.Minute
	end := start.Add(duration)

	cases := []struct {
		notificationType NotificationType
		want             time.Time
	}{
		{NotificationPrep48h, start.Add(-48 * time.Hour)},
		{NotificationPrep24h, start.Add(-24 * time.Hour)},
		{NotificationImmediateFeedback, end},
		{NotificationFollowup24h, end.Add(24 * time.Hour)},
	}
	for _, c := range cases {
		if got := TargetSendTime(c.notificationType, start, duration); !got.Equal(c.want) {
			t.Fatalf("TargetSendTime(%s) = %s, want %s", c.notificationType, got, c.want)
		}
	}
}

func TestTargetSendTimeUnknownTypeIsZero(t *testing.T) {
	got := TargetSendTime("weekly-digest", time.Now(), time.Hour)
	if !got.IsZero() {
		t.Fatalf("expected zero time for unknown type, got %s", got)
	}
}
