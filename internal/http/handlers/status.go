package handlers

import (
	"net/http"
)

// Status handles GET /v1/notifications/status. Exactly one selector is
// honored, checked in priority order: batch_id, session_id, user_id,
// then active=true.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if batchID := query.Get("batch_id"); batchID != "" {
		batch, err := a.status.BatchByID(r.Context(), batchID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batch": toBatchSummary(batch)})
		return
	}

	if sessionID := query.Get("session_id"); sessionID != "" {
		batches, err := a.status.BatchesForSession(r.Context(), sessionID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": toBatchSummaries(batches)})
		return
	}

	if userID := query.Get("user_id"); userID != "" {
		batches, err := a.status.BatchesForCreator(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": toBatchSummaries(batches)})
		return
	}

	if query.Get("active") == "true" {
		batches, err := a.status.ActiveBatches(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": toBatchSummaries(batches)})
		return
	}

	writeError(w, r, http.StatusBadRequest, "invalid_request", "one of batch_id, session_id, user_id or active=true is required")
}

// BatchJobs handles GET /v1/batches/{id}/jobs.
func (a *API) BatchJobs(w http.ResponseWriter, r *http.Request) {
	batchID := pathParam(r, "id")
	batch, err := a.status.BatchByID(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	jobs, err := a.status.JobsForBatch(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch": toBatchSummary(batch),
		"jobs":  views,
	})
}
