package poll

import (
	"testing"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
)

func newTestTracker(grace time.Duration) (*Tracker, func(time.Duration)) {
	tracker := NewTracker(TrackerConfig{
		ShortInterval: time.Second,
		LongInterval:  time.Minute,
		Grace:         grace,
	})
	current := time.Now()
	tracker.now = func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return tracker, advance
}

func TestIntervalShortWhileActive(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusInProgress})
	tracker.Observe(&domain.Batch{ID: "b2", Status: domain.BatchStatusCompleted})
	if got := tracker.Interval(); got != time.Second {
		t.Fatalf("interval = %s, want short while b1 is active", got)
	}

	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusCompleted})
	if got := tracker.Interval(); got != time.Minute {
		t.Fatalf("interval = %s, want long once all settled", got)
	}
}

func TestIntervalShortForUnobservedWatches(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)

	if got := tracker.Interval(); got != time.Minute {
		t.Fatalf("empty tracker interval = %s, want long", got)
	}

	tracker.Watch("b1")
	if got := tracker.Interval(); got != time.Second {
		t.Fatalf("unobserved watch interval = %s, want short", got)
	}
}

func TestTerminalBatchesDropAfterGrace(t *testing.T) {
	tracker, advance := newTestTracker(10 * time.Second)

	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusCompleted})

	if got := len(tracker.Snapshot()); got != 1 {
		t.Fatalf("snapshot = %d batches, want the terminal batch inside grace", got)
	}

	advance(5 * time.Second)
	if got := len(tracker.Snapshot()); got != 1 {
		t.Fatalf("snapshot = %d batches, want batch still visible at 5s", got)
	}

	advance(6 * time.Second)
	if got := len(tracker.Snapshot()); got != 0 {
		t.Fatalf("snapshot = %d batches, want batch dropped after grace", got)
	}
	if got := len(tracker.BatchIDs()); got != 0 {
		t.Fatalf("tracked ids = %d, want dropped batch untracked", got)
	}
}

func TestStaleActiveObservationRestartsGrace(t *testing.T) {
	tracker, advance := newTestTracker(10 * time.Second)

	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusCompleted})
	advance(8 * time.Second)

	// A stale read shows the batch active again; it must not be dropped
	// two seconds later.
	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusInProgress})
	advance(4 * time.Second)

	if got := len(tracker.Snapshot()); got != 1 {
		t.Fatalf("snapshot = %d batches, want batch kept after active observation", got)
	}
	if got := tracker.Interval(); got != time.Second {
		t.Fatalf("interval = %s, want short while observed active", got)
	}
}

func TestSnapshotReturnsClones(t *testing.T) {
	tracker, _ := newTestTracker(time.Minute)
	tracker.Observe(&domain.Batch{ID: "b1", Status: domain.BatchStatusInProgress, Completed: 1})

	snapshot := tracker.Snapshot()
	snapshot[0].Completed = 99

	if got := tracker.Snapshot()[0].Completed; got != 1 {
		t.Fatalf("snapshot mutation leaked into tracker state: completed = %d", got)
	}
}
