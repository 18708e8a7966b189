// Package poll implements the client side of the status surface: an
// adaptive tracker that polls fast while batches are in flight and
// slows down once everything it watches has settled.
package poll

import (
	"sync"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
)

type TrackerConfig struct {
	// ShortInterval applies while any tracked batch is still active.
	ShortInterval time.Duration
	// LongInterval applies once every tracked batch is terminal.
	LongInterval time.Duration
	// Grace keeps a terminal batch visible before it is dropped, so a
	// consumer refreshing its view does not see the entry flicker away
	// the instant the batch completes.
	Grace time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.ShortInterval <= 0 {
		c.ShortInterval = 3 * time.Second
	}
	if c.LongInterval <= 0 {
		c.LongInterval = 30 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 15 * time.Second
	}
	return c
}

type trackedBatch struct {
	batch      *domain.Batch
	terminalAt time.Time
}

// Tracker maintains the set of batches a client is watching. It holds
// view state only; the store stays authoritative and observed batches
// may lag it briefly.
type Tracker struct {
	mu      sync.Mutex
	config  TrackerConfig
	batches map[string]*trackedBatch
	now     func() time.Time
}

func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		config:  config.withDefaults(),
		batches: make(map[string]*trackedBatch),
		now:     time.Now,
	}
}

// Watch adds a batch id to the tracked set. Unknown status until the
// first Observe.
func (t *Tracker) Watch(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.batches[batchID]; !ok {
		t.batches[batchID] = &trackedBatch{}
	}
}

// Observe records the latest polled state of a batch. Batches that
// newly turned terminal start their grace window; ones already past it
// are dropped on the next Snapshot.
func (t *Tracker) Observe(batch *domain.Batch) {
	if batch == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked, ok := t.batches[batch.ID]
	if !ok {
		tracked = &trackedBatch{}
		t.batches[batch.ID] = tracked
	}
	tracked.batch = batch.Clone()
	if batch.Status.Terminal() {
		if tracked.terminalAt.IsZero() {
			tracked.terminalAt = t.now()
		}
	} else {
		// An observed regression keeps the batch live; staleness on the
		// read path can reorder observations.
		tracked.terminalAt = time.Time{}
	}
}

// Snapshot returns the batches still worth showing, evicting terminal
// ones whose grace window has passed.
func (t *Tracker) Snapshot() []*domain.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	batches := make([]*domain.Batch, 0, len(t.batches))
	for id, tracked := range t.batches {
		if !tracked.terminalAt.IsZero() && now.Sub(tracked.terminalAt) > t.config.Grace {
			delete(t.batches, id)
			continue
		}
		if tracked.batch != nil {
			batches = append(batches, tracked.batch.Clone())
		}
	}
	return batches
}

// BatchIDs lists every id currently tracked, including ones not yet
// observed.
func (t *Tracker) BatchIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.batches))
	for id := range t.batches {
		ids = append(ids, id)
	}
	return ids
}

// Interval picks the next poll delay: short while anything tracked is
// still moving (or not yet observed), long once all settled.
func (t *Tracker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.batches) == 0 {
		return t.config.LongInterval
	}
	for _, tracked := range t.batches {
		if tracked.batch == nil || !tracked.batch.Status.Terminal() {
			return t.config.ShortInterval
		}
	}
	return t.config.LongInterval
}
