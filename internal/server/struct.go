package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/ingestion"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request, upload
	// body included.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /chat query (default: 2m).
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /ready.
	// If empty, /ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /chat and
	// /upload (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /chat and /upload.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// UploadDir is where uploaded files are saved (default: ./data_uploads).
	UploadDir string
	// MaxUploadBytes caps the upload body (default: 50 MiB).
	MaxUploadBytes int64
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is exposed on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// querier answers chat messages. *engine.Handle satisfies it; tests inject
// a fake.
type querier interface {
	// Query answers message from the served knowledge base, or returns
	// engine.ErrNotLoaded.
	Query(ctx context.Context, message string) (*engine.Answer, error)
	// Loaded reports whether a knowledge base is being served.
	Loaded() bool
}

// ingester queues uploads. *ingestion.Orchestrator satisfies it.
type ingester interface {
	Submit(filename, path string) (ingestion.Job, error)
	Job(id string) (ingestion.Job, error)
}

// Server is the HTTP front end of the RAG engine.
type Server struct {
	// querier handles POST /chat.
	querier querier
	// ingester receives POST /upload jobs.
	ingester ingester
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /chat.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
}

// chatResponse is the JSON response for POST /chat.
type chatResponse struct {
	// Answer is the synthesized answer.
	Answer string `json:"answer"`
	// Sources are the passages the answer was built from, most relevant first.
	Sources []engine.Source `json:"sources"`
}

// uploadResponse is the JSON response for POST /upload.
type uploadResponse struct {
	// Message confirms the file was accepted.
	Message string `json:"message"`
	// JobID identifies the ingestion job for GET /upload/{id}.
	JobID string `json:"job_id"`
}

// healthResponse is the JSON response for GET /health.
type healthResponse struct {
	// Status is "running" while the process serves requests.
	Status string `json:"status"`
	// EngineLoaded reports whether a knowledge base is being served.
	EngineLoaded bool `json:"engine_loaded"`
}

// errorResponse is the JSON body of every handler error on /chat and /upload.
type errorResponse struct {
	Detail string `json:"detail"`
}
