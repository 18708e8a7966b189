package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/praxislabs/session-notifier/internal/signature"
	"golang.org/x/time/rate"
)

// MessageSource yields due messages for delivery. Claiming is the
// backend's concern; a claimed message belongs to this dispatcher.
// Requeue puts a claimed message back with a fresh delay so a delivery
// whose outcome could not be reported is retried instead of lost.
type MessageSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int64) ([]Message, error)
	Requeue(ctx context.Context, message Message, delay time.Duration) error
}

type DispatcherConfig struct {
	PollInterval   time.Duration
	ClaimLimit     int64
	DeliverTimeout time.Duration
	// CallbackAttempts bounds in-process retries of the outcome
	// callback before the message is requeued for a full redelivery.
	CallbackAttempts int
}

// Dispatcher drains a self-hosted queue backend and performs delivery:
// POST the envelope to the worker URL, retry with the message's backoff
// policy, then report the outcome to the success or failure callback
// URL. Flow control is enforced per key with a rate limiter plus a
// parallelism semaphore.
type Dispatcher struct {
	source     MessageSource
	signer     *signature.Signer
	httpClient *http.Client
	logger     *log.Logger
	config     DispatcherConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}
}

func NewDispatcher(
	source MessageSource,
	signer *signature.Signer,
	logger *log.Logger,
	config DispatcherConfig,
) *Dispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.ClaimLimit <= 0 {
		config.ClaimLimit = 100
	}
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = 30 * time.Second
	}
	if config.CallbackAttempts <= 0 {
		config.CallbackAttempts = 3
	}
	return &Dispatcher{
		source:     source,
		signer:     signer,
		httpClient: &http.Client{},
		logger:     logger,
		config:     config,
		limiters:   make(map[string]*rate.Limiter),
		slots:      make(map[string]chan struct{}),
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		messages, err := d.source.ClaimDue(ctx, time.Now().UTC(), d.config.ClaimLimit)
		if err != nil {
			if d.logger != nil {
				d.logger.Printf("dispatcher claim error: %v", err)
			}
			continue
		}
		for _, message := range messages {
			go d.deliverWithFlowControl(ctx, message)
		}
	}
}

func (d *Dispatcher) deliverWithFlowControl(ctx context.Context, message Message) {
	if message.FlowControl.Key != "" {
		limiter, slots := d.flowControlFor(message.FlowControl)
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}
		defer func() { <-slots }()
	}
	d.deliver(ctx, message)
}

func (d *Dispatcher) flowControlFor(flowControl FlowControl) (*rate.Limiter, chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()

	limiter, ok := d.limiters[flowControl.Key]
	if !ok {
		perSecond := flowControl.Rate
		if perSecond <= 0 {
			perSecond = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		d.limiters[flowControl.Key] = limiter
	}

	slots, ok := d.slots[flowControl.Key]
	if !ok {
		parallelism := flowControl.Parallelism
		if parallelism <= 0 {
			parallelism = 1
		}
		slots = make(chan struct{}, parallelism)
		d.slots[flowControl.Key] = slots
	}
	return limiter, slots
}

func (d *Dispatcher) deliver(ctx context.Context, message Message) {
	attempts := message.Retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		status, body, err := d.callWorker(ctx, message)
		if err == nil && status >= 200 && status < 300 {
			d.reportOutcome(ctx, message, message.CallbackURL, status, attempt, body)
			return
		}
		lastStatus = status
		lastBody = body
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(message.Retry.Backoff(attempt)):
		}
	}

	if lastErr != nil && len(lastBody) == 0 {
		encoded, _ := json.Marshal(map[string]string{"error": lastErr.Error()})
		lastBody = encoded
	}
	if d.logger != nil {
		d.logger.Printf(
			"dispatcher delivery exhausted message_id=%s worker=%s status=%d err=%v",
			message.ID, message.WorkerURL, lastStatus, lastErr,
		)
	}
	d.reportOutcome(ctx, message, message.FailureCallbackURL, lastStatus, attempts-1, lastBody)
}

func (d *Dispatcher) callWorker(ctx context.Context, message Message) (int, []byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.config.DeliverTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		message.WorkerURL,
		bytes.NewReader(message.Body),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("create worker request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(HeaderSourceMessage, message.ID)
	for key, value := range message.Headers {
		request.Header.Set(key, value)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("worker call: %w", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response.StatusCode, body, fmt.Errorf("worker status %d", response.StatusCode)
	}
	return response.StatusCode, body, nil
}

// reportOutcome delivers the outcome callback, retrying with the
// message's backoff policy. When every attempt fails the message is
// requeued so the whole delivery runs again later: the worker may be
// called twice, but duplicate callbacks are no-ops downstream, whereas
// a dropped callback would strand the jobs in scheduled forever.
func (d *Dispatcher) reportOutcome(
	ctx context.Context,
	message Message,
	callbackURL string,
	status int,
	retried int,
	responseBody []byte,
) {
	if callbackURL == "" {
		return
	}

	callback := NewCallbackRequest(message.ID, status, retried, message.Body, responseBody)
	encoded, err := json.Marshal(callback)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("dispatcher callback encode failed message_id=%s err=%v", message.ID, err)
		}
		return
	}

	var lastErr error
	for attempt := 0; attempt < d.config.CallbackAttempts; attempt++ {
		if lastErr = d.postCallback(ctx, callbackURL, encoded); lastErr == nil {
			return
		}
		if attempt == d.config.CallbackAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(message.Retry.Backoff(attempt)):
		}
	}

	if d.logger != nil {
		d.logger.Printf(
			"dispatcher callback delivery failed, requeueing message_id=%s url=%s err=%v",
			message.ID, callbackURL, lastErr,
		)
	}
	if err := d.source.Requeue(ctx, message, message.Retry.Backoff(0)); err != nil && d.logger != nil {
		d.logger.Printf("dispatcher requeue failed message_id=%s err=%v", message.ID, err)
	}
}

// postCallback is one signed callback attempt. A 4xx is treated as
// accepted: the receiver saw the request and rejected it, so retrying
// the same payload cannot help.
func (d *Dispatcher) postCallback(ctx context.Context, callbackURL string, encoded []byte) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.config.DeliverTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, callbackURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create callback request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if d.signer != nil {
		signed, err := d.signer.Sign(encoded)
		if err == nil {
			request.Header.Set(signature.Header, signed)
		}
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("callback call: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= 500 {
		return fmt.Errorf("callback status %d", response.StatusCode)
	}
	return nil
}
