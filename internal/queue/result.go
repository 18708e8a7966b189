package queue

import (
	"encoding/json"
	"strings"
)

// JobResult is one worker-reported outcome inside a batch response.
// Exactly one of ProviderMessageID and Error is expected to be set; a
// provider message id wins when both appear.
type JobResult struct {
	JobID             string `json:"job_id"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

func (r JobResult) Succeeded() bool {
	return r.ProviderMessageID != ""
}

// WorkerResponse is the JSON body the delivery worker returns after
// invoking the email provider. Batch deliveries fill Results; the
// legacy single shape carries a bare provider message id or error.
type WorkerResponse struct {
	Results           []JobResult `json:"results,omitempty"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	Error             string      `json:"error,omitempty"`
}

func DecodeWorkerResponse(raw []byte) (WorkerResponse, bool) {
	var response WorkerResponse
	if len(raw) == 0 {
		return response, false
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return WorkerResponse{}, false
	}
	return response, true
}

// ExtractErrorMessage recovers a human-readable error from the
// heterogeneous failure payload shapes the delivery path produces:
// a plain JSON string, a structured error object ({"error": ...} or
// {"message": ...}, with the error field itself either a string or an
// object), or a JSON string embedded in a response "body" field. Raw
// text is the fallback so no failure detail is ever dropped.
func ExtractErrorMessage(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "unknown delivery error"
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if nested := strings.TrimSpace(asString); nested != "" {
			if strings.HasPrefix(nested, "{") || strings.HasPrefix(nested, `"`) {
				return ExtractErrorMessage([]byte(nested))
			}
			return nested
		}
		return "unknown delivery error"
	}

	var structured struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Body    string          `json:"body"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		if len(structured.Error) > 0 && string(structured.Error) != "null" {
			var errorString string
			if err := json.Unmarshal(structured.Error, &errorString); err == nil {
				if errorString != "" {
					return errorString
				}
			} else {
				var errorObject struct {
					Message string `json:"message"`
					Code    string `json:"code"`
				}
				if err := json.Unmarshal(structured.Error, &errorObject); err == nil && errorObject.Message != "" {
					if errorObject.Code != "" {
						return errorObject.Code + ": " + errorObject.Message
					}
					return errorObject.Message
				}
			}
		}
		if structured.Message != "" {
			return structured.Message
		}
		if body := strings.TrimSpace(structured.Body); body != "" {
			return ExtractErrorMessage([]byte(body))
		}
	}

	return trimmed
}
