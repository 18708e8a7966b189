package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/praxislabs/session-notifier/internal/domain"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// GetJob handles GET /v1/jobs/{id}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.status.JobByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobView(job)})
}

// RetryJob handles POST /v1/jobs/{id}/retry. Only failed jobs are
// retryable; anything else answers 409.
func (a *API) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.scheduler.RetryJob(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobView(job)})
}

// ResendJob handles POST /v1/jobs/{id}/resend. A completed job is never
// reopened; the resend is a fresh job appended to the same batch.
func (a *API) ResendJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.scheduler.ResendJob(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": toJobView(job)})
}

type deadLetterView struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	BatchID        string    `json:"batch_id"`
	SessionID      string    `json:"session_id"`
	Type           string    `json:"type"`
	RecipientEmail string    `json:"recipient_email"`
	ErrorMessage   string    `json:"error_message"`
	Attempts       int       `json:"attempts"`
	FailedAt       time.Time `json:"failed_at"`
}

func toDeadLetterView(entry domain.DeadLetterEntry) deadLetterView {
	return deadLetterView{
		ID:             entry.ID,
		JobID:          entry.JobID,
		BatchID:        entry.BatchID,
		SessionID:      entry.SessionID,
		Type:           string(entry.Type),
		RecipientEmail: entry.RecipientEmail,
		ErrorMessage:   entry.ErrorMessage,
		Attempts:       entry.Attempts,
		FailedAt:       entry.FailedAt,
	}
}

// DeadLetters handles GET /v1/notifications/dead-letters, optionally
// filtered by batch_id.
func (a *API) DeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := a.status.DeadLetters(r.Context(), r.URL.Query().Get("batch_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]deadLetterView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, toDeadLetterView(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": views})
}
