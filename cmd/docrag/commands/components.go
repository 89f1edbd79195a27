package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/docrag/internal/chunker"
	"github.com/54b3r/docrag/internal/config"
	"github.com/54b3r/docrag/internal/embedder"
	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/index"
	"github.com/54b3r/docrag/internal/ingestion"
	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/parser"
	"github.com/54b3r/docrag/internal/provider"
	"github.com/54b3r/docrag/internal/rag"
	"github.com/54b3r/docrag/internal/rerank"
)

// components are the collaborators every command assembles from settings.
type components struct {
	settings    config.Settings
	layout      index.Layout
	location    rag.Location
	embedInfo   embedder.Info
	chat        model.BaseChatModel
	providerCfg *provider.Config
	builder     *index.Builder
	loader      *engine.Loader
}

// buildComponents resolves settings and constructs the embedder, vector
// location, reranker and, when withChat is set, the chat model. The ingest
// command has no use for a chat model and skips it.
func buildComponents(ctx context.Context, log *slog.Logger, withChat bool) (*components, error) {
	s, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, info, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", info.Backend),
		slog.String("model", info.Model),
		slog.Int("dimensions", info.Dimensions),
	)

	loc, err := rag.ParseLocation(s.VectorURI)
	if err != nil {
		return nil, err
	}
	loc.APIKey = s.QdrantAPIKey
	loc.CollectionPrefix = s.CollectionPrefix
	log.Info("vector store selected", slog.String("location", loc.String()))

	c := &components{
		settings:  s,
		layout:    index.Layout{Root: s.StorageDir},
		location:  loc,
		embedInfo: info,
	}
	if err := c.layout.Init(); err != nil {
		return nil, err
	}

	if withChat {
		chat, pcfg, err := provider.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise model provider: %w", err)
		}
		c.chat, c.providerCfg = chat, pcfg
		log.Info("provider initialised",
			slog.String("provider", string(pcfg.Backend)),
			slog.String("model", pcfg.ModelName()),
		)
	}

	c.builder = &index.Builder{
		Layout:         c.layout,
		Location:       loc,
		Embedder:       emb,
		EmbeddingModel: info.Model,
	}
	c.loader = &engine.Loader{
		Layout:         c.layout,
		Location:       loc,
		Embedder:       emb,
		EmbeddingModel: info.Model,
		Reranker:       buildReranker(s, log),
		Model:          c.chat,
		Config: engine.Config{
			TopK:             s.TopK,
			TopN:             s.TopN,
			SystemPrompt:     s.SystemPrompt,
			MaxContextTokens: s.MaxContextTokens,
		},
	}
	return c, nil
}

// buildReranker returns Cohere when a key is configured and the similarity
// passthrough otherwise.
func buildReranker(s config.Settings, log *slog.Logger) rerank.Reranker {
	if s.CohereAPIKey == "" {
		log.Warn("reranker: COHERE_API_KEY not set, keeping similarity order")
		return rerank.Passthrough{}
	}
	c, err := rerank.NewCohere(rerank.CohereConfig{
		APIKey:  s.CohereAPIKey,
		Model:   s.CohereModel,
		BaseURL: s.CohereBaseURL,
	})
	if err != nil {
		log.Warn("reranker: cohere unavailable, keeping similarity order", slog.Any("error", err))
		return rerank.Passthrough{}
	}
	return c
}

// pipeline builds the ingestion pipeline. handle is nil for the ingest
// command, which publishes without serving.
func (c *components) pipeline(log *slog.Logger, handle *engine.Handle) *ingestion.Pipeline {
	var remote parser.Parser
	if c.settings.LlamaAPIKey != "" {
		lp, err := parser.NewLlamaParse(parser.LlamaParseConfig{
			APIKey:   c.settings.LlamaAPIKey,
			BaseURL:  c.settings.LlamaBaseURL,
			Language: c.settings.LlamaLanguage,
		})
		if err != nil {
			log.Warn("parser: llamaparse unavailable", slog.Any("error", err))
		} else {
			remote = lp
		}
	} else {
		log.Warn("parser: LLAMA_CLOUD_API_KEY not set, only text and markdown files can be ingested")
	}

	return &ingestion.Pipeline{
		Parser: parser.Router{Remote: remote},
		Chunker: chunker.New(
			chunker.WithChunkSize(c.settings.ChunkSize),
			chunker.WithOverlap(c.settings.ChunkOverlap),
		),
		Builder:         c.builder,
		Loader:          c.loader,
		Handle:          handle,
		KeepGenerations: c.settings.KeepGenerations,
	}
}

// retire prunes generations superseded before served became the generation
// this process serves.
func (c *components) retire(ctx context.Context, served string) {
	log := logging.FromContext(ctx)
	removed, err := c.builder.Prune(ctx, c.settings.KeepGenerations, served)
	if err != nil {
		log.Warn("pruning superseded generations failed", slog.Any("error", err))
		return
	}
	if len(removed) > 0 {
		log.Info("pruned superseded generations", slog.Any("generations", removed))
	}
}
