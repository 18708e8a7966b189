package handlers

import "net/http"

// Recalculate handles POST /v1/admin/recalculate, re-deriving the
// progress counters of every non-terminal batch from its jobs. Used
// after manual store surgery or suspected drift.
func (a *API) Recalculate(w http.ResponseWriter, r *http.Request) {
	updated, err := a.aggregator.RecalculateActive(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
