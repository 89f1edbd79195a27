// Package ingestion turns an uploaded file into the served knowledge base.
// A Pipeline parses and chunks the file, builds a new generation, loads it,
// publishes it by swapping the CURRENT pointer and installs it on the engine
// handle. An Orchestrator queues uploads and runs them one at a time.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/docrag/internal/chunker"
	"github.com/54b3r/docrag/internal/engine"
	"github.com/54b3r/docrag/internal/index"
	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/parser"
	"github.com/54b3r/docrag/internal/rag"
)

// Result describes a successful ingestion.
type Result struct {
	// Generation is the published generation ID.
	Generation string
	// Documents is the number of parsed documents.
	Documents int
	// Nodes is the number of indexed nodes.
	Nodes int
}

// Pipeline runs one file through parse → chunk → index → load → publish.
type Pipeline struct {
	// Parser extracts text from the uploaded file.
	Parser parser.Parser

	// Chunker splits parsed text into nodes. Defaults to chunker.New().
	Chunker *chunker.Chunker

	// Builder writes and discards generations.
	Builder *index.Builder

	// Loader opens the freshly built generation before it is published.
	Loader *engine.Loader

	// Handle receives the new engine. When nil (the ingest command) the
	// engine is closed after validation, nothing is pruned, and a serving
	// process picks the generation up through its pointer watch and prunes
	// the one it stopped serving.
	Handle *engine.Handle

	// KeepGenerations is the number of superseded generations kept on disk.
	KeepGenerations int
}

// Reporter receives progress from Ingest. A nil Reporter, or a nil field,
// ignores that kind of update.
type Reporter struct {
	// Stage is called as the job enters each stage.
	Stage func(State)
	// Indexed is called after each stored batch with the number of nodes
	// embedded so far and the total.
	Indexed func(done, total int)
}

func (r *Reporter) stage(s State) {
	if r != nil && r.Stage != nil {
		r.Stage(s)
	}
}

func (r *Reporter) indexed(done, total int) {
	if r != nil && r.Indexed != nil {
		r.Indexed(done, total)
	}
}

// Ingest indexes the file at path under name and publishes it, reporting
// progress to report. On any failure the partial generation is discarded and
// the published state is left untouched.
func (p *Pipeline) Ingest(ctx context.Context, name, path string, report *Reporter) (Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	report.stage(StateParsing)
	docs, err := p.Parser.Parse(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: parse %s: %w", name, err)
	}

	report.stage(StateChunking)
	nodes := p.split(name, docs)
	if len(nodes) == 0 {
		return Result{}, fmt.Errorf("ingestion: %s: %w", name, index.ErrEmptyDocument)
	}
	log.Info("ingestion: document chunked",
		slog.String("doc", name),
		slog.Int("documents", len(docs)),
		slog.Int("nodes", len(nodes)),
	)

	report.stage(StateIndexing)
	layout := p.Builder.Layout
	id, err := layout.NewGeneration()
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}
	published := false
	defer func() {
		if published {
			return
		}
		// The caller's context may already be done; cleanup must still run.
		if derr := p.Builder.Discard(context.WithoutCancel(ctx), id); derr != nil {
			log.Warn("ingestion: failed to discard partial generation",
				slog.String("generation", id), slog.Any("error", derr))
		}
	}()

	if _, err := p.Builder.Build(ctx, id, name, nodes, report.indexed); err != nil {
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}

	report.stage(StateReloading)
	e, err := p.Loader.LoadGeneration(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: validate new generation: %w", err)
	}
	if err := layout.Swap(id); err != nil {
		_ = e.Close()
		return Result{}, fmt.Errorf("ingestion: %w", err)
	}
	published = true

	var removed []string
	if p.Handle != nil {
		// The previous engine is closed by Install before anything is pruned.
		p.Handle.Install(e)
		removed, err = p.Builder.Prune(ctx, p.KeepGenerations, id)
		if err != nil {
			log.Warn("ingestion: pruning old generations failed", slog.Any("error", err))
		}
	} else {
		_ = e.Close()
	}

	log.Info("ingestion: generation published",
		slog.String("generation", id),
		slog.String("doc", name),
		slog.Int("nodes", len(nodes)),
		slog.Int("pruned", len(removed)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return Result{Generation: id, Documents: len(docs), Nodes: len(nodes)}, nil
}

// split chunks every parsed document and numbers the nodes in reading order.
func (p *Pipeline) split(name string, docs []parser.Document) []rag.Node {
	c := p.Chunker
	if c == nil {
		c = chunker.New()
	}
	var nodes []rag.Node
	for _, d := range docs {
		for _, n := range c.Split(name, d.Text) {
			n.Index = len(nodes)
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// isCanceled reports whether err stems from the job's context ending.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
