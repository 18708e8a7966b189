package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDHonorsInboundHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set(RequestIDHeader, "caller-supplied-id")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if seen != "caller-supplied-id" {
		t.Fatalf("context request id = %q, want caller-supplied-id", seen)
	}
	if got := recorder.Header().Get(RequestIDHeader); got != "caller-supplied-id" {
		t.Fatalf("echoed request id = %q, want caller-supplied-id", got)
	}
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if seen == "" || seen == "unknown" {
		t.Fatalf("expected generated request id, got %q", seen)
	}
	if got := recorder.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("header id %q does not match context id %q", got, seen)
	}
}

func TestTraceLogsStatusAndPath(t *testing.T) {
	var buffer bytes.Buffer
	logger := log.New(&buffer, "", 0)

	handler := RequestID(Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))

	request := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	line := buffer.String()
	if !strings.Contains(line, "status=404") {
		t.Fatalf("trace line missing status: %s", line)
	}
	if !strings.Contains(line, "path=/v1/jobs/missing") {
		t.Fatalf("trace line missing path: %s", line)
	}
}

func TestTraceDefaultsToOKWithoutExplicitWriteHeader(t *testing.T) {
	var buffer bytes.Buffer
	logger := log.New(&buffer, "", 0)

	handler := Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if !strings.Contains(buffer.String(), "status=200") {
		t.Fatalf("trace line missing implicit 200: %s", buffer.String())
	}
}
