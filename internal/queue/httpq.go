package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headers understood by the delayed-queue publish API.
const (
	HeaderDelaySeconds  = "X-Delay-Seconds"
	HeaderRetries       = "X-Retries"
	HeaderRetryBackoff  = "X-Retry-Backoff"
	HeaderCallback      = "X-Callback-Url"
	HeaderFailure       = "X-Failure-Callback-Url"
	HeaderFlowKey       = "X-Flow-Control-Key"
	HeaderFlowRate      = "X-Flow-Control-Rate"
	HeaderFlowParallel  = "X-Flow-Control-Parallelism"
	HeaderBatchID       = "X-Batch-Id"
	HeaderSessionID     = "X-Session-Id"
	HeaderMessageType   = "X-Notification-Type"
	HeaderSourceMessage = "X-Source-Message-Id"
)

type HTTPPublisherConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// HTTPPublisher talks to a hosted delayed-queue publish API. Every call
// runs under a bounded timeout so a slow queue cannot stall scheduling.
type HTTPPublisher struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewHTTPPublisher(config HTTPPublisherConfig) (*HTTPPublisher, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, errors.New("queue base URL is required")
	}
	if strings.TrimSpace(config.Token) == "" {
		return nil, errors.New("queue token is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &HTTPPublisher{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		token:      strings.TrimSpace(config.Token),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}, nil
}

func (p *HTTPPublisher) Publish(ctx context.Context, request PublishRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		messageID, callErr := p.publishOnce(ctx, request)
		if callErr == nil {
			return messageID, nil
		}
		lastErr = callErr

		if !isRetryableUpstreamError(callErr) || attempt == p.maxRetries {
			break
		}
		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

func (p *HTTPPublisher) publishOnce(ctx context.Context, request PublishRequest) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		p.baseURL+"/v1/publish/"+request.WorkerURL,
		bytes.NewReader(request.Body),
	)
	if err != nil {
		return "", fmt.Errorf("create publish request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+p.token)
	httpRequest.Header.Set("Content-Type", "application/json")
	applyPublishHeaders(httpRequest.Header, request)

	response, err := p.httpClient.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", ErrUpstream, errPublishTransport, err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", &publishStatusError{statusCode: response.StatusCode, body: truncate(raw, 256)}
	}

	var decoded struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.MessageID == "" {
		return "", fmt.Errorf("%w: publish response missing message id", ErrUpstream)
	}
	return decoded.MessageID, nil
}

func (p *HTTPPublisher) Cancel(ctx context.Context, messageID string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodDelete,
		p.baseURL+"/v1/messages/"+messageID,
		nil,
	)
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+p.token)

	response, err := p.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("%w: cancel call: %v", ErrUpstream, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	// 404 means the message already fired or was cancelled; both are
	// acceptable for a best-effort cancel.
	if response.StatusCode >= 300 && response.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: cancel status %d", ErrUpstream, response.StatusCode)
	}
	return nil
}

func applyPublishHeaders(header http.Header, request PublishRequest) {
	header.Set(HeaderDelaySeconds, strconv.Itoa(int(request.Delay/time.Second)))
	header.Set(HeaderRetries, strconv.Itoa(request.Retry.MaxRetries))
	header.Set(HeaderRetryBackoff, request.Retry.Encode())
	if request.CallbackURL != "" {
		header.Set(HeaderCallback, request.CallbackURL)
	}
	if request.FailureCallbackURL != "" {
		header.Set(HeaderFailure, request.FailureCallbackURL)
	}
	if request.FlowControl.Key != "" {
		header.Set(HeaderFlowKey, request.FlowControl.Key)
		header.Set(HeaderFlowRate, strconv.FormatFloat(request.FlowControl.Rate, 'f', -1, 64))
		header.Set(HeaderFlowParallel, strconv.Itoa(request.FlowControl.Parallelism))
	}
	for key, value := range request.Headers {
		header.Set(key, value)
	}
}

// publishStatusError carries the upstream HTTP status so retry
// classification switches on the code instead of matching error text.
type publishStatusError struct {
	statusCode int
	body       string
}

func (e *publishStatusError) Error() string {
	return fmt.Sprintf("publish status %d: %s", e.statusCode, e.body)
}

func (e *publishStatusError) Unwrap() error { return ErrUpstream }

// errPublishTransport marks a failed connection to the publish API.
var errPublishTransport = errors.New("publish transport failure")

func isRetryableUpstreamError(err error) bool {
	var statusErr *publishStatusError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= 500
	}
	return errors.Is(err, errPublishTransport)
}

func truncate(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
