// Package engine answers questions against one loaded knowledge-base
// generation: retrieve the top-K nodes, rerank to the top-N, and synthesize
// an answer with the chat model. A Handle holds the engine currently being
// served and swaps it atomically when a new generation is published.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag/internal/budget"
	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/rag"
	"github.com/54b3r/docrag/internal/rerank"
	"github.com/54b3r/docrag/internal/store"
)

var (
	// ErrNotLoaded is returned when no engine is being served.
	ErrNotLoaded = errors.New("engine: RAG engine is not loaded")

	// ErrNoKnowledgeBase is returned by Load when nothing has been ingested yet.
	ErrNoKnowledgeBase = errors.New("engine: no knowledge base has been built")

	// errClosed is returned by an engine closed while the caller held it.
	errClosed = errors.New("engine: closed")
)

const (
	// DefaultTopK is the number of nodes retrieved per query.
	DefaultTopK = 10
	// DefaultTopN is the number of nodes kept after reranking.
	DefaultTopN = 3
	// previewRunes is the length of source previews returned to clients.
	previewRunes = 200
	// passageSep separates passages inside the context block.
	passageSep = "\n\n"
)

// Config tunes query behaviour.
type Config struct {
	// TopK is the retrieval depth (default 10).
	TopK int
	// TopN is the number of reranked nodes passed to the model (default 3).
	TopN int
	// SystemPrompt frames every answer (default DefaultSystemPrompt).
	SystemPrompt string
	// MaxContextTokens bounds the prompt size (default budget.DefaultMaxContextTokens).
	MaxContextTokens int
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
}

// Source is one supporting passage returned with an answer.
type Source struct {
	// Score is the reranker relevance score.
	Score float32 `json:"score"`
	// Text is a preview of the passage: its first 200 characters and "...".
	Text string `json:"text"`
}

// Answer is the result of a query.
type Answer struct {
	// Text is the synthesized answer.
	Text string
	// Sources are the passages given to the model, in relevance order.
	Sources []Source
}

// Engine is the query pipeline over one generation. It is safe for
// concurrent queries; Close waits for in-flight queries to finish.
type Engine struct {
	generation string
	manifest   store.Manifest
	retriever  rag.Retriever
	reranker   rerank.Reranker
	model      model.BaseChatModel
	cfg        Config
	closers    []io.Closer

	mu     sync.RWMutex
	closed bool
}

// New assembles an engine. closers are released by Close, in order.
func New(manifest store.Manifest, retriever rag.Retriever, reranker rerank.Reranker, chat model.BaseChatModel, cfg Config, closers ...io.Closer) *Engine {
	cfg.applyDefaults()
	if reranker == nil {
		reranker = rerank.Passthrough{}
	}
	return &Engine{
		generation: manifest.Generation,
		manifest:   manifest,
		retriever:  retriever,
		reranker:   reranker,
		model:      chat,
		cfg:        cfg,
		closers:    closers,
	}
}

// Generation is the ID of the generation this engine serves.
func (e *Engine) Generation() string { return e.generation }

// Manifest describes the served generation.
func (e *Engine) Manifest() store.Manifest { return e.manifest }

// Query answers question from the served generation.
func (e *Engine) Query(ctx context.Context, question string) (*Answer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errClosed
	}

	log := logging.FromContext(ctx)
	start := time.Now()

	nodes, err := e.retriever.Retrieve(ctx, question, e.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("engine: retrieve: %w", err)
	}

	ranked, err := e.reranker.Rerank(ctx, question, nodes, e.cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("engine: rerank (%s): %w", e.reranker.Name(), err)
	}

	text, used, err := e.synthesize(ctx, question, ranked)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, len(used))
	for i, n := range used {
		sources[i] = Source{Score: n.Score, Text: Preview(n.Text)}
	}

	log.Debug("engine: query answered",
		slog.String("generation", e.generation),
		slog.Int("retrieved", len(nodes)),
		slog.Int("sources", len(sources)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Answer{Text: text, Sources: sources}, nil
}

// synthesize builds the prompt from the ranked passages and calls the model.
// It returns the answer and the passages that fit the token budget, which
// are the ones the answer was built from.
func (e *Engine) synthesize(ctx context.Context, question string, ranked []rag.Node) (string, []rag.Node, error) {
	if len(ranked) == 0 {
		return NoContextAnswer, nil, nil
	}

	system := schema.SystemMessage(e.cfg.SystemPrompt)
	passages := make([]string, len(ranked))
	for i, n := range ranked {
		passages[i] = n.Text
	}
	keep := budget.FitPassages([]*schema.Message{system, schema.UserMessage(question)},
		passages, passageSep, e.cfg.MaxContextTokens)
	if keep < len(passages) {
		logging.FromContext(ctx).Warn("engine: context trimmed to fit token budget",
			slog.Int("kept", keep),
			slog.Int("ranked", len(passages)),
			slog.Int("max_tokens", e.cfg.MaxContextTokens),
		)
	}

	msgs := []*schema.Message{
		system,
		schema.UserMessage(buildQAPrompt(strings.Join(passages[:keep], passageSep), question)),
	}
	resp, err := e.model.Generate(ctx, msgs)
	if err != nil {
		return "", nil, fmt.Errorf("engine: generate: %w", err)
	}
	return resp.Content, ranked[:keep], nil
}

// Close waits for in-flight queries, then releases the generation's stores.
// It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Preview shortens text to its first 200 characters followed by "...".
func Preview(text string) string {
	r := []rune(text)
	if len(r) > previewRunes {
		r = r[:previewRunes]
	}
	return string(r) + "..."
}
