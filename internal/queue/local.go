package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalQueue is an in-memory delayed queue used when neither a hosted
// queue nor Redis is configured. Same contract as RedisQueue, scoped to
// one process.
type LocalQueue struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		messages: make(map[string]Message),
	}
}

func (q *LocalQueue) Publish(_ context.Context, request PublishRequest) (string, error) {
	message := newMessage(uuid.NewString(), request, time.Now().UTC())
	q.mu.Lock()
	q.messages[message.ID] = message
	q.mu.Unlock()
	return message.ID, nil
}

func (q *LocalQueue) Cancel(_ context.Context, messageID string) error {
	q.mu.Lock()
	delete(q.messages, messageID)
	q.mu.Unlock()
	return nil
}

// Requeue puts a claimed message back under its original id with a
// fresh fire time.
func (q *LocalQueue) Requeue(_ context.Context, message Message, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	message.FireAt = time.Now().UTC().Add(delay)
	q.mu.Lock()
	q.messages[message.ID] = message
	q.mu.Unlock()
	return nil
}

func (q *LocalQueue) ClaimDue(_ context.Context, now time.Time, limit int64) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]Message, 0)
	for id, message := range q.messages {
		if int64(len(due)) >= limit {
			break
		}
		if !message.FireAt.After(now) {
			due = append(due, message)
			delete(q.messages, id)
		}
	}
	return due, nil
}

func (q *LocalQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
