package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUpstream marks failures of the delayed-queue infrastructure
// itself. Callers log it and lean on the queue's own retry schedule
// instead of retrying in-process.
var ErrUpstream = errors.New("delayed queue upstream error")

// FlowControl caps delivery throughput toward the downstream email
// provider. Rate is deliveries per second for the key; Parallelism
// bounds concurrent in-flight deliveries.
type FlowControl struct {
	Key         string
	Rate        float64
	Parallelism int
}

// RetryPolicy is the bounded exponential backoff the queue applies to a
// failing delivery before giving up and firing the failure callback.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff returns the delay before the given retry attempt (0-based):
// base * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 30 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Hour
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Encode renders the policy for the publish API header.
func (p RetryPolicy) Encode() string {
	return fmt.Sprintf("exponential;base=%s;max=%s", p.BaseDelay, p.MaxDelay)
}

// PublishRequest is one delayed-delivery submission: the queue holds
// Body for Delay, then POSTs it to WorkerURL and reports the worker's
// response to CallbackURL (or FailureCallbackURL after retries are
// exhausted).
type PublishRequest struct {
	WorkerURL          string
	Body               []byte
	Headers            map[string]string
	Delay              time.Duration
	Retry              RetryPolicy
	FlowControl        FlowControl
	CallbackURL        string
	FailureCallbackURL string
}

// Publisher is the contract with the delayed-message queue. Publish
// returns the queue-assigned message id used for correlation and
// cancellation. Cancel is best-effort: a message that already fired is
// simply gone.
type Publisher interface {
	Publish(ctx context.Context, request PublishRequest) (string, error)
	Cancel(ctx context.Context, messageID string) error
}
