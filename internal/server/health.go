package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/docrag/internal/logging"
)

// checkTimeout bounds each dependency check during a readiness check.
const checkTimeout = 5 * time.Second

// Pinger reports whether one dependency is reachable. Implementations must
// be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is healthy.
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses ("llm", "qdrant").
	Name() string
}

// handleHealth answers GET /health. It always returns 200 and reports
// whether a knowledge base is loaded.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "running",
		EngineLoaded: s.querier.Loaded(),
	})
}

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type readyResponse struct {
	// Ready is true only when every check succeeded.
	Ready bool `json:"ready"`
	// EngineLoaded is informational: readiness does not depend on it,
	// because uploads are accepted before any knowledge base exists.
	EngineLoaded bool         `json:"engine_loaded"`
	Checks       []readyCheck `json:"checks"`
}

// handleReady answers GET /ready. Pingers run concurrently, each under
// checkTimeout; the response lists them in registration order and is 503
// when any failed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(ctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
				log.Warn("readiness check failed", slog.String("dependency", p.Name()), slog.Any("error", err))
			}
		}()
	}
	wg.Wait()

	resp := readyResponse{Ready: true, EngineLoaded: s.querier.Loaded(), Checks: checks}
	for _, c := range checks {
		resp.Ready = resp.Ready && c.OK
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
