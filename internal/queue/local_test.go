package queue

import (
	"context"
	"testing"
	"time"
)

func TestLocalQueueClaimsOnlyDueMessages(t *testing.T) {
	q := NewLocalQueue()
	ctx := context.Background()

	dueID, err := q.Publish(ctx, PublishRequest{WorkerURL: "https://w", Delay: 0})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := q.Publish(ctx, PublishRequest{WorkerURL: "https://w", Delay: time.Hour}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	due, err := q.ClaimDue(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != dueID {
		t.Fatalf("due = %+v, want only the immediate message", due)
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want the delayed message to remain", q.Pending())
	}

	// Claiming removes the message: a second sweep sees nothing.
	due, err = q.ClaimDue(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("second claim returned %d messages", len(due))
	}
}

func TestLocalQueueCancelRemovesPending(t *testing.T) {
	q := NewLocalQueue()
	ctx := context.Background()

	messageID, err := q.Publish(ctx, PublishRequest{WorkerURL: "https://w", Delay: time.Hour})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.Cancel(ctx, messageID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if q.Pending() != 0 {
		t.Fatalf("pending = %d after cancel", q.Pending())
	}
}

func TestNewMessageClampsNegativeDelay(t *testing.T) {
	now := time.Now().UTC()
	message := newMessage("m1", PublishRequest{Delay: -time.Hour}, now)
	if !message.FireAt.Equal(now) {
		t.Fatalf("FireAt = %s, want clamped to now", message.FireAt)
	}
}
