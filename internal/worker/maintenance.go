package worker

import (
	"context"
	"log"
	"time"

	"github.com/praxislabs/session-notifier/internal/service"
)

// Maintenance runs the periodic background sweeps: republishing jobs
// that were persisted but never reached the queue, and re-deriving
// progress counters for batches still in flight.
type Maintenance struct {
	scheduler  *service.SchedulerService
	aggregator *service.Aggregator
	logger     *log.Logger

	interval time.Duration
	grace    time.Duration
}

func NewMaintenance(
	scheduler *service.SchedulerService,
	aggregator *service.Aggregator,
	logger *log.Logger,
	interval time.Duration,
	grace time.Duration,
) *Maintenance {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &Maintenance{
		scheduler:  scheduler,
		aggregator: aggregator,
		logger:     logger,
		interval:   interval,
		grace:      grace,
	}
}

// Start blocks until the context is canceled, sweeping once per
// interval. Sweep errors are logged and the loop continues; a broken
// sweep must not take the process down.
func (m *Maintenance) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Maintenance) sweep(ctx context.Context) {
	republished, err := m.scheduler.ReconcileStalled(ctx, m.grace)
	if err != nil {
		m.logger.Printf("maintenance reconcile error: %v", err)
	} else if republished > 0 {
		m.logger.Printf("maintenance reconciled stalled jobs count=%d", republished)
	}

	updated, err := m.aggregator.RecalculateActive(ctx)
	if err != nil {
		m.logger.Printf("maintenance recalculate error: %v", err)
	} else if updated > 0 {
		m.logger.Printf("maintenance recalculated batches count=%d", updated)
	}
}
