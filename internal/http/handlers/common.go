package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
	"github.com/praxislabs/session-notifier/internal/http/middleware"
	"github.com/praxislabs/session-notifier/internal/repository"
	"github.com/praxislabs/session-notifier/internal/service"
	"github.com/praxislabs/session-notifier/internal/signature"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	scheduler  *service.SchedulerService
	callbacks  *service.CallbackService
	status     *service.StatusService
	aggregator *service.Aggregator
	verifier   *signature.Verifier
	logger     *log.Logger
}

func NewAPI(
	scheduler *service.SchedulerService,
	callbacks *service.CallbackService,
	status *service.StatusService,
	aggregator *service.Aggregator,
	verifier *signature.Verifier,
	logger *log.Logger,
) *API {
	return &API{
		scheduler:  scheduler,
		callbacks:  callbacks,
		status:     status,
		aggregator: aggregator,
		verifier:   verifier,
		logger:     logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, repository.ErrInvalidState):
		writeError(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, service.ErrBatchExists):
		writeError(w, r, http.StatusConflict, "batch_exists", "active batch already exists; pass force to reschedule")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type batchSummary struct {
	BatchID   string    `json:"batch_id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	CreatedBy string    `json:"created_by,omitempty"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBatchSummary(batch *domain.Batch) batchSummary {
	return batchSummary{
		BatchID:   batch.ID,
		SessionID: batch.SessionID,
		Type:      string(batch.Type),
		CreatedBy: batch.CreatedBy,
		Status:    string(batch.Status),
		Total:     batch.Total,
		Completed: batch.Completed,
		Failed:    batch.Failed,
		CreatedAt: batch.CreatedAt,
		UpdatedAt: batch.UpdatedAt,
	}
}

func toBatchSummaries(batches []*domain.Batch) []batchSummary {
	summaries := make([]batchSummary, 0, len(batches))
	for _, batch := range batches {
		summaries = append(summaries, toBatchSummary(batch))
	}
	return summaries
}

type jobView struct {
	JobID          string            `json:"job_id"`
	BatchID        string            `json:"batch_id"`
	SessionID      string            `json:"session_id"`
	Type           string            `json:"type"`
	RecipientEmail string            `json:"recipient_email"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	Status         string            `json:"status"`
	Attempts       int               `json:"attempts"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toJobView(job *domain.Job) jobView {
	return jobView{
		JobID:          job.ID,
		BatchID:        job.BatchID,
		SessionID:      job.SessionID,
		Type:           string(job.Type),
		RecipientEmail: job.RecipientEmail,
		ScheduledFor:   job.ScheduledFor,
		Status:         string(job.Status),
		Attempts:       job.Attempts,
		Metadata:       job.Metadata,
		UpdatedAt:      job.UpdatedAt,
	}
}
