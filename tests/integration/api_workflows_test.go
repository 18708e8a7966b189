package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	httpserver "github.com/praxislabs/session-notifier/internal/http"
	"github.com/praxislabs/session-notifier/internal/http/handlers"
	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/repository"
	"github.com/praxislabs/session-notifier/internal/service"
	"github.com/praxislabs/session-notifier/internal/signature"
)

const signingKey = "integration-signing-key"

// workerBehavior scripts the fake delivery worker: deliveries before
// failUntil answer an error, later ones succeed.
type workerBehavior struct {
	calls     atomic.Int64
	failUntil int64
}

func (w *workerBehavior) handle(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	envelope, err := queue.DecodeEnvelope(body)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	call := w.calls.Add(1)
	results := make([]map[string]string, 0, len(envelope.Jobs))
	for i, job := range envelope.Jobs {
		if call <= w.failUntil {
			results = append(results, map[string]string{
				"job_id": job.JobID,
				"error":  "provider rejected the message",
			})
			continue
		}
		results = append(results, map[string]string{
			"job_id":              job.JobID,
			"provider_message_id": fmt.Sprintf("prov-%d-%d", call, i),
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"results": results})
}

type integrationRuntime struct {
	server *httptest.Server
	repo   *repository.MemoryJobsRepository
	cancel context.CancelFunc
}

// startIntegrationRuntime wires the full loop in one process: API,
// local delayed queue, dispatcher and a scripted worker. Callbacks flow
// back into the API server over real HTTP with real signatures.
func startIntegrationRuntime(t *testing.T, worker *workerBehavior) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)
	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue()

	workerServer := httptest.NewServer(http.HandlerFunc(worker.handle))

	// The API handler is assigned after the server exists so the
	// scheduler can carry the server's own URL as callback target.
	var handler http.Handler
	apiServer := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(rw, r)
	}))

	aggregator := service.NewAggregator(repo)
	scheduler := service.NewSchedulerService(repo, localQueue, aggregator, logger, service.SchedulerConfig{
		WorkerURL:          workerServer.URL,
		CallbackURL:        apiServer.URL + "/v1/notifications/callback",
		FailureCallbackURL: apiServer.URL + "/v1/notifications/failure",
		Retry:              queue.RetryPolicy{MaxRetries: 1, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	})
	callbacks := service.NewCallbackService(repo, aggregator, logger)
	status := service.NewStatusService(repo)
	verifier := signature.NewVerifier(signingKey, "", true)

	api := handlers.NewAPI(scheduler, callbacks, status, aggregator, verifier, logger)
	handler = httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	dispatcher := queue.NewDispatcher(localQueue, signature.NewSigner(signingKey), logger, queue.DispatcherConfig{
		PollInterval:   20 * time.Millisecond,
		DeliverTimeout: 5 * time.Second,
	})
	go dispatcher.Run(ctx)

	return integrationRuntime{
		server: apiServer,
		repo:   repo,
		cancel: func() {
			cancel()
			apiServer.Close()
			workerServer.Close()
		},
	}
}

func postJSON(t *testing.T, client *http.Client, url string, payload any) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	response, err := client.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}
	return response.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()

	response, err := client.Get(url)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}
	return response.StatusCode, decoded
}

func waitForBatchCounts(
	t *testing.T,
	client *http.Client,
	baseURL string,
	batchID string,
	completed int,
	failed int,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		statusCode, body := getJSON(t, client, baseURL+"/v1/notifications/status?batch_id="+batchID)
		if statusCode == http.StatusOK {
			batch, _ := body["batch"].(map[string]any)
			last = batch
			gotCompleted, _ := batch["completed"].(float64)
			gotFailed, _ := batch["failed"].(float64)
			if int(gotCompleted) == completed && int(gotFailed) == failed {
				return batch
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for batch %s to reach %d/%d, last=%+v", batchID, completed, failed, last)
	return nil
}

func scheduleSoonEvent(t *testing.T, client *http.Client, baseURL, sessionID string) string {
	t.Helper()

	// Starting in 100ms with no duration: the feedback send fires
	// almost immediately, the 24h follow-up stays queued, the prep
	// reminders are already past and never become jobs.
	statusCode, body := postJSON(t, client, baseURL+"/v1/notifications/schedule", map[string]any{
		"session_id":       sessionID,
		"start_time":       time.Now().UTC().Add(100 * time.Millisecond).Format(time.RFC3339Nano),
		"duration_minutes": 0,
		"recipients": []map[string]string{
			{"email": "attendee@example.com", "name": "Attendee", "role": "participant"},
		},
	})
	if statusCode != http.StatusCreated {
		t.Fatalf("schedule = %d body=%+v", statusCode, body)
	}
	batchID, _ := body["batch_id"].(string)
	if batchID == "" {
		t.Fatalf("missing batch_id in %+v", body)
	}
	if jobCount, _ := body["job_count"].(float64); int(jobCount) != 2 {
		t.Fatalf("job_count = %v, want 2 (feedback + follow-up)", body["job_count"])
	}
	return batchID
}

func TestDeliveryLoopCompletesJobs(t *testing.T) {
	runtime := startIntegrationRuntime(t, &workerBehavior{})
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL
	batchID := scheduleSoonEvent(t, client, baseURL, "session-ok")

	batch := waitForBatchCounts(t, client, baseURL, batchID, 1, 0)
	if status, _ := batch["status"].(string); status != "in_progress" {
		t.Fatalf("batch status = %q, want in_progress while the follow-up waits", status)
	}
}

func TestFailureDeadLettersAndManualRetryRecovers(t *testing.T) {
	worker := &workerBehavior{failUntil: 1}
	runtime := startIntegrationRuntime(t, worker)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL
	batchID := scheduleSoonEvent(t, client, baseURL, "session-retry")

	// First delivery fails: one failed job, one dead letter.
	waitForBatchCounts(t, client, baseURL, batchID, 0, 1)

	statusCode, deadLetters := getJSON(t, client, baseURL+"/v1/notifications/dead-letters?batch_id="+batchID)
	if statusCode != http.StatusOK {
		t.Fatalf("dead letters = %d", statusCode)
	}
	entries, _ := deadLetters["dead_letters"].([]any)
	if len(entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(entries))
	}
	entry, _ := entries[0].(map[string]any)
	jobID, _ := entry["job_id"].(string)
	if jobID == "" {
		t.Fatalf("dead letter missing job_id: %+v", entry)
	}

	// Manual retry republishes under the same id; the worker now
	// succeeds, so the failure count drains back to zero.
	statusCode, retried := postJSON(t, client, baseURL+"/v1/jobs/"+jobID+"/retry", map[string]any{})
	if statusCode != http.StatusOK {
		t.Fatalf("retry = %d body=%+v", statusCode, retried)
	}

	waitForBatchCounts(t, client, baseURL, batchID, 1, 0)
}
