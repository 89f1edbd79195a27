package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger_PropagatesClientID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/upload/x", nil)
	req.Header.Set(requestIDHeader, "client-abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got != "client-abc" {
		t.Errorf("echoed request id = %q", got)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["request_id"] != "client-abc" || entry["level"] != "WARN" {
		t.Errorf("unexpected log entry: %v", entry)
	}
	if entry["status"] != float64(404) || entry["bytes"] != float64(len("missing")) {
		t.Errorf("status/bytes not recorded: %v", entry)
	}
}

func TestRequestLogger_GeneratesID(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := requestLogger(log, okHandler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	got := w.Header().Get(requestIDHeader)
	if len(got) != 36 {
		t.Errorf("expected a generated UUID, got %q", got)
	}
}
