// Package server implements the HTTP API of the RAG engine: question
// answering on /chat, document upload on /upload, and the health, readiness
// and metrics endpoints. The server is started by the `docrag serve` command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/ingestion"
	"github.com/54b3r/docrag/internal/logging"
)

const (
	// defaultMaxUploadBytes is the upload size cap when none is configured.
	defaultMaxUploadBytes = 50 << 20

	// warmingUpDetail is returned with 503 while no knowledge base is loaded.
	warmingUpDetail = "RAG Engine is warming up. Please wait."

	// processingStarted acknowledges an accepted upload.
	processingStarted = "Processing started..."
)

// New constructs a Server answering from q and queueing uploads on ing.
func New(q querier, ing ingester, cfg *Config) (*Server, error) {
	if q == nil {
		return nil, fmt.Errorf("server: querier must not be nil")
	}
	if ing == nil {
		return nil, fmt.Errorf("server: ingester must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		// Large uploads over slow links need time.
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./data_uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	s := &Server{
		querier:  q,
		ingester: ing,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCRAG_API_KEY is not set, /chat and /upload are unauthenticated")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal)
	s.stopRL = stopRL
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.Handle("POST /chat", protect(s.handleChat))
	mux.Handle("POST /upload", protect(s.handleUpload))
	mux.Handle("GET /upload/{id}", authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleJob)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      cors(requestLogger(s.log, s.instrument(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /chat: retrieve, rerank, synthesize.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	ans, err := s.querier.Query(ctx, req.Message)
	outcome := "ok"
	defer func() {
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	switch {
	case errors.Is(err, engine.ErrNotLoaded):
		outcome = "not_loaded"
		writeError(w, http.StatusServiceUnavailable, warmingUpDetail)
		return
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
		log.Error("chat: query timed out", slog.Duration("timeout", s.cfg.ChatTimeout))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		outcome = "error"
		log.Error("chat: query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sources := ans.Sources
	if sources == nil {
		sources = []engine.Source{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: ans.Text, Sources: sources})
}

// handleUpload handles POST /upload. The file is saved, a job is queued and
// 202 is returned at once; ingestion errors surface on GET /upload/{id}.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		s.uploadFailed(w, http.StatusBadRequest, "expected a multipart/form-data body", "bad_request")
		return
	}

	var path, filename string
	for {
		part, err := mr.NextPart()
		if err != nil {
			if s.uploadTooLarge(w, err) {
				return
			}
			break
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		filename = ingestion.SanitizeFilename(part.FileName())
		path, err = ingestion.SaveUpload(s.cfg.UploadDir, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			if s.uploadTooLarge(w, err) {
				return
			}
			log.Error("upload: save failed", slog.Any("error", err))
			s.uploadFailed(w, http.StatusInternalServerError, "could not store upload", "error")
			return
		}
		break
	}
	if path == "" {
		s.uploadFailed(w, http.StatusBadRequest, `missing "file" field`, "bad_request")
		return
	}

	job, err := s.ingester.Submit(filename, path)
	if errors.Is(err, ingestion.ErrQueueFull) {
		_ = os.Remove(path)
		w.Header().Set("Retry-After", "30")
		s.uploadFailed(w, http.StatusTooManyRequests, "ingestion queue is full, retry later", "queue_full")
		return
	}
	if err != nil {
		_ = os.Remove(path)
		log.Error("upload: submit failed", slog.Any("error", err))
		s.uploadFailed(w, http.StatusInternalServerError, err.Error(), "error")
		return
	}

	s.metrics.uploadsTotal.WithLabelValues("accepted").Inc()
	log.Info("upload: job queued",
		slog.String("job_id", job.ID),
		slog.String("filename", filename),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{Message: processingStarted, JobID: job.ID})
}

// uploadTooLarge answers 413 when err comes from the body size cap.
func (s *Server) uploadTooLarge(w http.ResponseWriter, err error) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	s.uploadFailed(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("file exceeds the %d byte limit", mbe.Limit), "too_large")
	return true
}

func (s *Server) uploadFailed(w http.ResponseWriter, status int, detail, outcome string) {
	s.metrics.uploadsTotal.WithLabelValues(outcome).Inc()
	writeError(w, status, detail)
}

// handleJob handles GET /upload/{id}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ingester.Job(r.PathValue("id"))
	if errors.Is(err, ingestion.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
