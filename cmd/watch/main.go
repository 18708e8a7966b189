// Command watch follows notification batches from the terminal,
// polling the status surface at the tracker's adaptive interval and
// printing progress whenever it changes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/poll"
)

func main() {
	var (
		baseURL   = flag.String("addr", "http://localhost:8080", "notifier API base URL")
		token     = flag.String("token", os.Getenv("NOTIFIER_AUTH_TOKEN"), "bearer token for the API")
		sessionID = flag.String("session", "", "watch every batch of a session")
		batchIDs  = flag.String("batches", "", "comma-separated batch ids to watch")
		short     = flag.Duration("short", 3*time.Second, "poll interval while batches are active")
		long      = flag.Duration("long", 30*time.Second, "poll interval once all batches settled")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", 0)
	if *sessionID == "" && *batchIDs == "" {
		logger.Fatal("one of -session or -batches is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &statusClient{
		baseURL: strings.TrimRight(*baseURL, "/"),
		token:   *token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	tracker := poll.NewTracker(poll.TrackerConfig{
		ShortInterval: *short,
		LongInterval:  *long,
	})
	for _, id := range strings.Split(*batchIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			tracker.Watch(id)
		}
	}

	lastPrinted := map[string]string{}
	for {
		if *sessionID != "" {
			batches, err := client.batchesForSession(ctx, *sessionID)
			if err != nil {
				logger.Printf("poll session failed: %v", err)
			}
			for _, batch := range batches {
				tracker.Observe(batch)
			}
		}
		for _, id := range tracker.BatchIDs() {
			batch, err := client.batchByID(ctx, id)
			if err != nil {
				logger.Printf("poll batch %s failed: %v", id, err)
				continue
			}
			if batch != nil {
				tracker.Observe(batch)
			}
		}

		for _, batch := range tracker.Snapshot() {
			line := fmt.Sprintf("%s %s %d/%d completed, %d failed",
				batch.ID, batch.Status, batch.Completed, batch.Total, batch.Failed)
			if lastPrinted[batch.ID] != line {
				fmt.Println(line)
				lastPrinted[batch.ID] = line
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(tracker.Interval()):
		}
	}
}

type statusClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type batchPayload struct {
	BatchID   string `json:"batch_id"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

func (p batchPayload) toDomain() *domain.Batch {
	return &domain.Batch{
		ID:        p.BatchID,
		SessionID: p.SessionID,
		Type:      domain.BatchType(p.Type),
		Status:    domain.BatchStatus(p.Status),
		Total:     p.Total,
		Completed: p.Completed,
		Failed:    p.Failed,
	}
}

func (c *statusClient) batchByID(ctx context.Context, batchID string) (*domain.Batch, error) {
	var payload struct {
		Batch batchPayload `json:"batch"`
	}
	found, err := c.get(ctx, "batch_id="+url.QueryEscape(batchID), &payload)
	if err != nil || !found {
		return nil, err
	}
	return payload.Batch.toDomain(), nil
}

func (c *statusClient) batchesForSession(ctx context.Context, sessionID string) ([]*domain.Batch, error) {
	var payload struct {
		Batches []batchPayload `json:"batches"`
	}
	if _, err := c.get(ctx, "session_id="+url.QueryEscape(sessionID), &payload); err != nil {
		return nil, err
	}
	batches := make([]*domain.Batch, 0, len(payload.Batches))
	for _, batch := range payload.Batches {
		batches = append(batches, batch.toDomain())
	}
	return batches, nil
}

func (c *statusClient) get(ctx context.Context, query string, out any) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/notifications/status?"+query, nil)
	if err != nil {
		return false, err
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return false, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status endpoint returned %d", response.StatusCode)
	}
	return true, json.NewDecoder(response.Body).Decode(out)
}
