package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docrag/internal/index"
	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/rag"
	"github.com/54b3r/docrag/internal/rerank"
	"github.com/54b3r/docrag/internal/store"
)

// Loader opens published generations as engines.
type Loader struct {
	// Layout is the storage root.
	Layout index.Layout
	// Location is where vectors live.
	Location rag.Location
	// Embedder embeds queries. It must match the generation's model.
	Embedder rag.Embedder
	// EmbeddingModel is compared against each generation's manifest.
	EmbeddingModel string
	// Reranker re-orders retrieved nodes.
	Reranker rerank.Reranker
	// Model synthesizes answers.
	Model model.BaseChatModel
	// Config tunes queries.
	Config Config
}

// Load opens the generation named by the CURRENT pointer, or returns
// ErrNoKnowledgeBase when none has been published.
func (l *Loader) Load(ctx context.Context) (*Engine, error) {
	id, err := l.Layout.Current()
	if errors.Is(err, index.ErrNoGeneration) {
		return nil, ErrNoKnowledgeBase
	}
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return l.LoadGeneration(ctx, id)
}

// LoadGeneration opens generation id and verifies it is complete: sealed
// with a manifest, built for the configured backend and embedding model, and
// with matching node and vector counts.
func (l *Loader) LoadGeneration(ctx context.Context, id string) (*Engine, error) {
	dir := l.Layout.Dir(id)
	docs, err := store.Open(filepath.Join(dir, store.FileName))
	if err != nil {
		return nil, fmt.Errorf("engine: generation %s: %w", id, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = docs.Close()
		}
	}()

	m, err := docs.Manifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: generation %s is incomplete: %w", id, err)
	}
	if m.Backend != l.Location.Backend {
		return nil, fmt.Errorf("engine: generation %s was built for %s vectors but %s is configured", id, m.Backend, l.Location.Backend)
	}
	if l.EmbeddingModel != "" && m.EmbeddingModel != l.EmbeddingModel {
		return nil, fmt.Errorf("engine: generation %s was embedded with %q but %q is configured; re-ingest the document",
			id, m.EmbeddingModel, l.EmbeddingModel)
	}

	nodeCount, err := docs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: generation %s: %w", id, err)
	}
	if nodeCount != m.NodeCount {
		return nil, fmt.Errorf("engine: generation %s has %d nodes, manifest says %d", id, nodeCount, m.NodeCount)
	}

	vectors, err := l.Location.Open(ctx, dir, id, m.Dimensions, false)
	if err != nil {
		return nil, fmt.Errorf("engine: generation %s: %w", id, err)
	}
	defer func() {
		if !ok {
			_ = vectors.Close()
		}
	}()
	vecCount, err := vectors.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: generation %s: %w", id, err)
	}
	if vecCount != m.NodeCount {
		return nil, fmt.Errorf("engine: generation %s has %d vectors, manifest says %d", id, vecCount, m.NodeCount)
	}

	retriever, err := rag.NewRetriever(l.Embedder, vectors, docs, l.Config.TopK)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	ok = true
	logging.FromContext(ctx).Info("engine: generation loaded",
		slog.String("generation", id),
		slog.String("doc", m.DocName),
		slog.Int("nodes", m.NodeCount),
		slog.String("vectors", l.Location.String()),
	)
	return New(m, retriever, l.Reranker, l.Model, l.Config, vectors, docs), nil
}
