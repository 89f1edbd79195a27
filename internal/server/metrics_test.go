package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/docrag/internal/engine"
)

// findCounter returns the value of the counter family name whose labels
// include all of want, and whether it was found.
func findCounter(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) (float64, bool) {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatOutcomes(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{answer: &engine.Answer{Text: "ok"}}
	s, _ := newTestServer(t, q, nil)

	postChat(s, `{"message":"one"}`)
	postChat(s, `{"message":"two"}`)
	q.err = engine.ErrNotLoaded
	postChat(s, `{"message":"three"}`)

	if got := testutil.ToFloat64(s.metrics.chatRequestsTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.metrics.chatRequestsTotal.WithLabelValues("not_loaded")); got != 1 {
		t.Errorf("not_loaded = %v, want 1", got)
	}
}

func Test_Metrics_HTTPRequestsLabelledByPattern(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil, nil)

	for range 3 {
		s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/upload/abc", nil))

	v, ok := findCounter(t, reg, "docrag_http_requests_total",
		map[string]string{"method": "GET", labelHandler: "GET /health", "code": "200"})
	if !ok || v != 3 {
		t.Errorf("GET /health counter = %v (found %v), want 3", v, ok)
	}
	v, ok = findCounter(t, reg, "docrag_http_requests_total",
		map[string]string{labelHandler: "GET /upload/{id}", "code": "404"})
	if !ok || v != 1 {
		t.Errorf("GET /upload/{id} 404 counter = %v (found %v), want 1", v, ok)
	}
}
