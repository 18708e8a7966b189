package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authHandler(t *testing.T, token string, exempt ...string) (http.Handler, *bool) {
	t.Helper()
	nextCalled := false
	handler := Auth(token, exempt...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &nextCalled
}

func TestAuthRejectsMissingBearer(t *testing.T) {
	handler, nextCalled := authHandler(t, "secret")

	request := httptest.NewRequest(http.MethodGet, "/v1/notifications/status", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if *nextCalled {
		t.Fatalf("expected unauthorized request to short-circuit chain")
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	handler, nextCalled := authHandler(t, "secret")

	request := httptest.NewRequest(http.MethodGet, "/v1/notifications/status", nil)
	request.Header.Set("Authorization", "Bearer wrong")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
	if *nextCalled {
		t.Fatalf("expected wrong token to short-circuit chain")
	}
}

func TestAuthAcceptsValidToken(t *testing.T) {
	handler, nextCalled := authHandler(t, "secret")

	request := httptest.NewRequest(http.MethodGet, "/v1/notifications/status", nil)
	request.Header.Set("Authorization", "Bearer secret")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if !*nextCalled {
		t.Fatalf("expected valid token to reach handler")
	}
}

func TestAuthExemptPathSkipsToken(t *testing.T) {
	handler, nextCalled := authHandler(t, "secret", "/v1/notifications/callback")

	request := httptest.NewRequest(http.MethodPost, "/v1/notifications/callback", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if !*nextCalled {
		t.Fatalf("expected exempt path to reach handler without credentials")
	}
}

func TestAuthIgnoresNonAPIPaths(t *testing.T) {
	handler, nextCalled := authHandler(t, "secret")

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if !*nextCalled {
		t.Fatalf("expected non-API path to bypass auth")
	}
}
