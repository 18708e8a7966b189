package handlers

import (
	"net/http"
	"time"

	"github.com/praxislabs/session-notifier/internal/domain"
)

type recipientPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type scheduleEventPayload struct {
	SessionID       string             `json:"session_id"`
	StartTime       time.Time          `json:"start_time"`
	DurationMinutes int                `json:"duration_minutes"`
	Recipients      []recipientPayload `json:"recipients"`
}

type scheduleRequest struct {
	scheduleEventPayload
	CreatedBy string `json:"created_by"`
	Force     bool   `json:"force"`
}

type scheduleBulkRequest struct {
	Events    []scheduleEventPayload `json:"events"`
	CreatedBy string                 `json:"created_by"`
}

func (p scheduleEventPayload) toDomain() (domain.SessionEvent, bool) {
	if p.SessionID == "" || p.StartTime.IsZero() {
		return domain.SessionEvent{}, false
	}
	recipients := make([]domain.Recipient, 0, len(p.Recipients))
	for _, recipient := range p.Recipients {
		if recipient.Email == "" {
			continue
		}
		role := domain.RecipientRole(recipient.Role)
		if role != domain.RoleHost {
			role = domain.RoleParticipant
		}
		recipients = append(recipients, domain.Recipient{
			Email: recipient.Email,
			Name:  recipient.Name,
			Role:  role,
		})
	}
	return domain.SessionEvent{
		SessionID:  p.SessionID,
		StartTime:  p.StartTime.UTC(),
		Duration:   time.Duration(p.DurationMinutes) * time.Minute,
		Recipients: recipients,
	}, true
}

// ScheduleSession handles POST /v1/notifications/schedule.
func (a *API) ScheduleSession(w http.ResponseWriter, r *http.Request) {
	var request scheduleRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	event, ok := request.toDomain()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "session_id and start_time are required")
		return
	}

	result, err := a.scheduler.ScheduleSessionNotifications(r.Context(), event, request.CreatedBy, request.Force)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"scheduled": false,
			"reason":    "nothing_eligible",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"scheduled": true,
		"batch_id":  result.BatchID,
		"job_count": result.JobCount,
	})
}

// ScheduleBulk handles POST /v1/notifications/schedule-bulk. Each event
// is scheduled independently; one bad event never fails the rest.
func (a *API) ScheduleBulk(w http.ResponseWriter, r *http.Request) {
	var request scheduleBulkRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if len(request.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "events must not be empty")
		return
	}

	events := make([]domain.SessionEvent, 0, len(request.Events))
	for _, payload := range request.Events {
		event, ok := payload.toDomain()
		if !ok {
			continue
		}
		events = append(events, event)
	}

	results, failures := a.scheduler.ScheduleMany(r.Context(), events, request.CreatedBy)

	scheduled := make([]map[string]any, 0, len(results))
	for _, result := range results {
		scheduled = append(scheduled, map[string]any{
			"batch_id":  result.BatchID,
			"job_count": result.JobCount,
		})
	}
	failed := make([]map[string]string, 0, len(failures))
	for _, failure := range failures {
		failed = append(failed, map[string]string{
			"session_id": failure.SessionID,
			"error":      failure.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scheduled": scheduled,
		"failures":  failed,
	})
}
