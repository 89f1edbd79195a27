package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/ingestion"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeQuerier implements the querier interface for tests.
type fakeQuerier struct {
	// loaded is returned by Loaded.
	loaded bool
	// answer is returned by Query when err is nil.
	answer *engine.Answer
	// err is returned by Query.
	err error
	// got records the last message.
	got string
}

func (f *fakeQuerier) Query(_ context.Context, message string) (*engine.Answer, error) {
	f.got = message
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeQuerier) Loaded() bool { return f.loaded }

// fakeIngester implements the ingester interface for tests.
type fakeIngester struct {
	mu sync.Mutex
	// full makes Submit return ErrQueueFull.
	full bool
	// paths records submitted upload paths.
	paths []string
	jobs  map[string]ingestion.Job
}

func (f *fakeIngester) Submit(filename, path string) (ingestion.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return ingestion.Job{}, ingestion.ErrQueueFull
	}
	if f.jobs == nil {
		f.jobs = make(map[string]ingestion.Job)
	}
	j := ingestion.Job{ID: fmt.Sprintf("job-%d", len(f.jobs)+1), Filename: filename, State: ingestion.StateQueued}
	f.jobs[j.ID] = j
	f.paths = append(f.paths, path)
	return j, nil
}

func (f *fakeIngester) Job(id string) (ingestion.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return ingestion.Job{}, ingestion.ErrJobNotFound
	}
	return j, nil
}

// newTestServer builds a Server through New with an isolated registry and a
// temporary upload directory. mutate adjusts the config before New runs.
func newTestServer(t *testing.T, q *fakeQuerier, ing *fakeIngester, mutate ...func(*Config)) (*Server, *prometheus.Registry) {
	t.Helper()
	if q == nil {
		q = &fakeQuerier{}
	}
	if ing == nil {
		ing = &fakeIngester{}
	}
	reg := prometheus.NewRegistry()
	cfg := &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		UploadDir:       t.TempDir(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	}
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(q, ing, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

func postChat(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e.Detail
}

// ---------------------------------------------------------------------------
// POST /chat
// ---------------------------------------------------------------------------

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	w := postChat(s, `{"message":"   "}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	w := postChat(s, `not-json`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestHandleChat_NotLoaded verifies the warming-up 503 when no knowledge
// base is being served.
func TestHandleChat_NotLoaded(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeQuerier{err: engine.ErrNotLoaded}, nil)
	w := postChat(s, `{"message":"hello"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if got := decodeDetail(t, w); got != "RAG Engine is warming up. Please wait." {
		t.Errorf("detail = %q", got)
	}
}

func TestHandleChat_UpstreamError(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeQuerier{err: errors.New("engine: generate: rate limited")}, nil)
	w := postChat(s, `{"message":"hello"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := decodeDetail(t, w); !strings.Contains(got, "rate limited") {
		t.Errorf("detail should carry the upstream error, got %q", got)
	}
}

func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{answer: &engine.Answer{
		Text: "- **Two days** per month",
		Sources: []engine.Source{
			{Score: 0.91, Text: "Employees accrue two days..."},
			{Score: 0.42, Text: "Requests go to managers..."},
		},
	}}
	s, _ := newTestServer(t, q, nil)
	w := postChat(s, `{"message":"How much vacation?"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if q.got != "How much vacation?" {
		t.Errorf("querier got %q", q.got)
	}
	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != q.answer.Text || len(resp.Sources) != 2 || resp.Sources[0].Score != 0.91 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// TestHandleChat_EmptySourcesEncodeAsArray guards the wire format: clients
// index into sources and must never see null.
func TestHandleChat_EmptySourcesEncodeAsArray(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeQuerier{answer: &engine.Answer{Text: engine.NoContextAnswer}}, nil)
	w := postChat(s, `{"message":"anything"}`)

	if !strings.Contains(w.Body.String(), `"sources":[]`) {
		t.Errorf("expected empty sources array, got %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Middleware chain
// ---------------------------------------------------------------------------

func TestChat_RequiresAuthWhenKeySet(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeQuerier{answer: &engine.Answer{Text: "ok"}}, nil,
		func(c *Config) { c.APIKey = "secret" })

	if w := postChat(s, `{"message":"hi"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}

	// Health stays open.
	hw := httptest.NewRecorder()
	s.Handler().ServeHTTP(hw, httptest.NewRequest(http.MethodGet, "/health", nil))
	if hw.Code != http.StatusOK {
		t.Errorf("/health: expected 200, got %d", hw.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestCORS_HeaderOnRegularResponse(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeIngester{}, nil); err == nil {
		t.Error("expected error for nil querier")
	}
	if _, err := New(&fakeQuerier{}, nil, nil); err == nil {
		t.Error("expected error for nil ingester")
	}
}
