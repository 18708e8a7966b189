package queue

import "time"

// Message is the stored form of an accepted publish request in the
// self-hosted backends. It round-trips through JSON in Redis.
type Message struct {
	ID                 string            `json:"id"`
	WorkerURL          string            `json:"worker_url"`
	Body               []byte            `json:"body"`
	Headers            map[string]string `json:"headers,omitempty"`
	FireAt             time.Time         `json:"fire_at"`
	Retry              RetryPolicy       `json:"retry"`
	FlowControl        FlowControl       `json:"flow_control"`
	CallbackURL        string            `json:"callback_url,omitempty"`
	FailureCallbackURL string            `json:"failure_callback_url,omitempty"`
}

func newMessage(id string, request PublishRequest, now time.Time) Message {
	delay := request.Delay
	if delay < 0 {
		delay = 0
	}
	return Message{
		ID:                 id,
		WorkerURL:          request.WorkerURL,
		Body:               request.Body,
		Headers:            request.Headers,
		FireAt:             now.Add(delay),
		Retry:              request.Retry,
		FlowControl:        request.FlowControl,
		CallbackURL:        request.CallbackURL,
		FailureCallbackURL: request.FailureCallbackURL,
	}
}
