package domain

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusPending, JobStatusScheduled, true},
		{JobStatusScheduled, JobStatusInProgress, true},
		{JobStatusInProgress, JobStatusCompleted, true},
		{JobStatusInProgress, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, true},
		{JobStatusScheduled, JobStatusFailed, true},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusCompleted, JobStatusInProgress, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusInProgress, JobStatusPending, false},
		{JobStatusScheduled, JobStatusPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.allowed {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestCanTransitionSameStatusIsNoOp(t *testing.T) {
	for _, status := range []JobStatus{
		JobStatusPending, JobStatusScheduled, JobStatusInProgress,
		JobStatusCompleted, JobStatusFailed,
	} {
		if !CanTransition(status, status) {
			t.Fatalf("expected %s -> %s to be allowed as a duplicate no-op", status, status)
		}
	}
}

func TestCanTransitionFailedReopensOnlyToPending(t *testing.T) {
	if !CanTransition(JobStatusFailed, JobStatusPending) {
		t.Fatalf("expected failed -> pending to be allowed for retry")
	}
	if CanTransition(JobStatusFailed, JobStatusInProgress) {
		t.Fatalf("expected failed -> in_progress to be rejected")
	}
}

func TestJobCloneIsolatesMetadata(t *testing.T) {
	job := &Job{
		ID:       "j1",
		Status:   JobStatusPending,
		Metadata: map[string]string{MetaExternalMessageID: "m1"},
	}
	clone := job.Clone()
	clone.Metadata[MetaExternalMessageID] = "changed"

	if job.Metadata[MetaExternalMessageID] != "m1" {
		t.Fatalf("expected clone mutation not to leak into the original")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !JobStatusCompleted.Terminal() || !JobStatusFailed.Terminal() {
		t.Fatalf("expected completed and failed to be terminal")
	}
	if JobStatusPending.Terminal() || JobStatusScheduled.Terminal() || JobStatusInProgress.Terminal() {
		t.Fatalf("expected non-terminal statuses to report false")
	}
}
