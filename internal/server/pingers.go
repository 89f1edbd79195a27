package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/provider"
)

// LLMPinger checks the chat backend used for answer synthesis. Backends with
// an HTTP health endpoint are checked there; the rest get a one-word Generate.
type LLMPinger struct {
	healthCheck provider.HealthCheckConfig
	model       model.BaseChatModel
	name        string
}

// NewLLMPinger returns a pinger labelled name. hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		return p.healthCheck.HealthCheck(ctx)
	}
	logging.FromContext(ctx).Debug("readiness check via generate", slog.String("backend", p.name))
	switch resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}); {
	case err != nil:
		return fmt.Errorf("%s: generate: %w", p.name, err)
	case resp == nil:
		return fmt.Errorf("%s: empty generate response", p.name)
	}
	return nil
}

// QdrantPinger calls the Qdrant HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}

// DirPinger checks that a directory the server writes to (storage or
// uploads) exists and is writable.
type DirPinger struct {
	// Label names the directory in readiness responses.
	Label string
	// Path is the directory to check.
	Path string
}

// Name returns the dependency label used in readiness responses.
func (p DirPinger) Name() string { return p.Label }

// Ping creates and removes a scratch file in Path.
func (p DirPinger) Ping(context.Context) error {
	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(p.Path, ".ready-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
