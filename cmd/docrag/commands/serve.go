package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/ingestion"
	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/provider"
	"github.com/54b3r/docrag/internal/rag"
	"github.com/54b3r/docrag/internal/server"
	"github.com/54b3r/docrag/internal/tracing"
)

// NewServeCmd constructs the `docrag serve` command.
func NewServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP server",
		Long: `Start the HTTP server.

POST /upload queues a document for ingestion; POST /chat answers a question
from the most recently ingested document. GET /health, /ready and /metrics
report on the process.

The last published knowledge base is loaded at startup, so a restart keeps
serving it. With --watch (the default) documents published by
'docrag ingest' from another process are picked up without a restart.

Examples:
  docrag serve
  docrag serve --port 9090
  VECTOR_STORE_URI=qdrant://localhost:6334 docrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, traced := tracing.Setup(tracing.ConfigFromEnv())
			defer flush()
			if traced {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			c, err := buildComponents(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			s := c.settings
			if cmd.Flags().Changed("host") {
				s.Host = host
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("watch") {
				s.Watch = watch
			}

			handle := engine.NewHandle(c.loader, c.layout)
			defer handle.Close()
			switch err := handle.Reload(ctx); {
			case err == nil:
				log.Info("knowledge base loaded", slog.String("generation", handle.Generation()))
				c.retire(ctx, handle.Generation())
			case errors.Is(err, engine.ErrNoKnowledgeBase):
				log.Info("no knowledge base published yet, waiting for an upload")
			default:
				log.Warn("knowledge base could not be loaded, waiting for an upload", slog.Any("error", err))
			}

			orch := ingestion.NewOrchestrator(c.pipeline(log, handle), ingestion.QueueConfig{
				Size:       s.QueueSize,
				JobTimeout: s.JobTimeout,
			}, prometheus.DefaultRegisterer)

			srv, err := server.New(handle, orch, &server.Config{
				Host:           s.Host,
				Port:           s.Port,
				ChatTimeout:    s.ChatTimeout,
				Logger:         log,
				Pingers:        buildPingers(c, log),
				RateLimit:      s.RateLimit,
				RateBurst:      s.RateBurst,
				APIKey:         s.APIKey,
				UploadDir:      s.UploadDir,
				MaxUploadBytes: s.MaxUploadBytes(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			// The workers stop with the server: a listen error cancels them too.
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				orch.Run(ctx)
			}()
			if s.Watch {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := engine.Watch(ctx, handle, c.layout, c.retire); err != nil {
						log.Warn("engine: watch stopped", slog.Any("error", err))
					}
				}()
			}

			err = srv.Start(ctx)
			cancel()
			wg.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host address to bind to (overrides DOCRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (overrides DOCRAG_PORT)")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload when another process publishes a knowledge base")

	return cmd
}

// buildPingers returns the dependency checks for GET /ready: the chat model,
// Qdrant when it backs the vector store, and both writable directories.
func buildPingers(c *components, log *slog.Logger) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(c.chat, provider.NewHealthCheck(c.providerCfg), string(c.providerCfg.Backend)),
	}

	if c.location.Backend == rag.BackendQdrant {
		client, err := rag.NewQdrantClient(&rag.QdrantConfig{
			Host:   c.location.Host,
			Port:   c.location.Port,
			APIKey: c.location.APIKey,
			UseTLS: c.location.UseTLS,
		})
		if err != nil {
			log.Warn("qdrant: readiness check unavailable", slog.Any("error", err))
		} else {
			pingers = append(pingers, server.NewQdrantPinger(client))
		}
	}

	return append(pingers,
		server.DirPinger{Label: "storage", Path: c.settings.StorageDir},
		server.DirPinger{Label: "uploads", Path: filepath.Clean(c.settings.UploadDir)},
	)
}

