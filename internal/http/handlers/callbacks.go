package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/signature"
)

const maxCallbackBody = 1 << 20

// SuccessCallback handles POST /v1/notifications/callback, the queue's
// report that the worker responded. Processing failures still answer
// 200: the queue would otherwise redeliver a callback we cannot use.
// Only a bad signature earns a 401.
func (a *API) SuccessCallback(w http.ResponseWriter, r *http.Request) {
	callback, ok := a.readCallback(w, r)
	if !ok {
		return
	}

	if err := a.callbacks.HandleSuccess(r.Context(), callback); err != nil {
		a.logger.Printf("success callback processing failed message_id=%s err=%v", callback.MessageID, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// FailureCallback handles POST /v1/notifications/failure, the queue's
// report that delivery retries were exhausted.
func (a *API) FailureCallback(w http.ResponseWriter, r *http.Request) {
	callback, ok := a.readCallback(w, r)
	if !ok {
		return
	}

	if err := a.callbacks.HandleFailure(r.Context(), callback); err != nil {
		a.logger.Printf("failure callback processing failed message_id=%s err=%v", callback.MessageID, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) readCallback(w http.ResponseWriter, r *http.Request) (queue.CallbackRequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unreadable body")
		return queue.CallbackRequest{}, false
	}

	if err := a.verifier.Verify(r.Header.Get(signature.Header), body); err != nil {
		a.logger.Printf("callback signature rejected path=%s err=%v", r.URL.Path, err)
		writeError(w, r, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return queue.CallbackRequest{}, false
	}

	var callback queue.CallbackRequest
	if err := json.Unmarshal(body, &callback); err != nil {
		// Malformed payloads are acknowledged so the queue drops them.
		a.logger.Printf("callback payload undecodable path=%s err=%v", r.URL.Path, err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return queue.CallbackRequest{}, false
	}
	return callback, true
}
