package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/54b3r/docrag/internal/logging"
	"github.com/54b3r/docrag/internal/rag"
	"github.com/54b3r/docrag/internal/store"
)

// defaultBatchSize is the number of nodes embedded per request.
const defaultBatchSize = 64

// ErrEmptyDocument is returned when a build is given no nodes.
var ErrEmptyDocument = errors.New("index: document produced no text to index")

// Builder embeds nodes and writes them into a generation.
type Builder struct {
	// Layout is the storage root.
	Layout Layout

	// Location selects where vectors are written.
	Location rag.Location

	// Embedder converts node text to vectors.
	Embedder rag.Embedder

	// EmbeddingModel is recorded in the manifest.
	EmbeddingModel string

	// BatchSize is the number of nodes embedded per request (default 64).
	BatchSize int
}

// Progress reports how many of total nodes have been embedded and stored.
type Progress func(done, total int)

// Build embeds nodes into generation id and seals it with a manifest. On
// error the generation is left partially written; callers Discard it.
func (b *Builder) Build(ctx context.Context, id, docName string, nodes []rag.Node, progress Progress) (store.Manifest, error) {
	log := logging.FromContext(ctx)
	if len(nodes) == 0 {
		return store.Manifest{}, ErrEmptyDocument
	}
	batch := b.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	dir := b.Layout.Dir(id)
	start := time.Now()

	var vectors rag.VectorStore
	defer func() {
		if vectors != nil {
			_ = vectors.Close()
		}
	}()

	dims := 0
	for lo := 0; lo < len(nodes); lo += batch {
		hi := min(lo+batch, len(nodes))
		texts := make([]string, hi-lo)
		ids := make([]string, hi-lo)
		for i, n := range nodes[lo:hi] {
			texts[i] = n.Text
			ids[i] = n.ID
		}

		embs, err := b.Embedder.Embed(ctx, texts)
		if err != nil {
			return store.Manifest{}, fmt.Errorf("index: embed nodes %d-%d: %w", lo, hi, err)
		}
		if len(embs) != len(texts) {
			return store.Manifest{}, fmt.Errorf("index: embedder returned %d vectors for %d nodes", len(embs), len(texts))
		}

		if vectors == nil {
			dims = len(embs[0])
			if dims == 0 {
				return store.Manifest{}, fmt.Errorf("index: embedder returned empty vectors")
			}
			vectors, err = b.Location.Open(ctx, dir, id, dims, true)
			if err != nil {
				return store.Manifest{}, fmt.Errorf("index: open vector store: %w", err)
			}
		}
		if err := vectors.Upsert(ctx, ids, embs); err != nil {
			return store.Manifest{}, fmt.Errorf("index: store vectors: %w", err)
		}
		if progress != nil {
			progress(hi, len(nodes))
		}
	}

	n, err := vectors.Count(ctx)
	if err != nil {
		return store.Manifest{}, fmt.Errorf("index: count vectors: %w", err)
	}
	if n != len(nodes) {
		return store.Manifest{}, fmt.Errorf("index: vector store holds %d vectors, want %d", n, len(nodes))
	}

	docs, err := store.Create(filepath.Join(dir, store.FileName))
	if err != nil {
		return store.Manifest{}, fmt.Errorf("index: create docstore: %w", err)
	}
	defer docs.Close()

	if err := docs.PutNodes(ctx, nodes); err != nil {
		return store.Manifest{}, fmt.Errorf("index: store nodes: %w", err)
	}
	m := store.Manifest{
		Generation:     id,
		DocName:        docName,
		Backend:        b.Location.Backend,
		EmbeddingModel: b.EmbeddingModel,
		Dimensions:     dims,
		NodeCount:      len(nodes),
		CreatedAt:      time.Now().UTC(),
	}
	if err := docs.PutManifest(ctx, m); err != nil {
		return store.Manifest{}, fmt.Errorf("index: seal generation: %w", err)
	}

	log.Info("index: generation built",
		slog.String("generation", id),
		slog.String("doc", docName),
		slog.Int("nodes", len(nodes)),
		slog.Int("dims", dims),
		slog.String("vectors", b.Location.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return m, nil
}

// Discard deletes generation id: its vector collection (for remote
// backends) and its directory. Missing pieces are not an error.
func (b *Builder) Discard(ctx context.Context, id string) error {
	if b.Location.Backend == rag.BackendQdrant {
		if vs, err := b.Location.Open(ctx, b.Layout.Dir(id), id, 0, false); err == nil {
			if err := vs.Drop(ctx); err != nil {
				return fmt.Errorf("index: discard %s: %w", id, err)
			}
		}
	}
	return b.Layout.Remove(id)
}

// Prune discards superseded generations, keeping the keep most recently
// superseded for rollback. The current generation and inUse (the one the
// calling process serves, which may lag behind the pointer) are never
// removed, and builds in progress are never in the superseded list. It
// returns the discarded IDs.
//
// A Swap racing with Prune may have its entry dropped from the list; that
// generation then stays on disk rather than being removed while served.
func (b *Builder) Prune(ctx context.Context, keep int, inUse string) ([]string, error) {
	retired, err := b.Layout.Superseded()
	if err != nil || len(retired) == 0 {
		return nil, err
	}
	current, err := b.Layout.Current()
	if err != nil && !errors.Is(err, ErrNoGeneration) {
		return nil, err
	}
	onDisk, err := b.Layout.Generations()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(onDisk))
	for _, id := range onDisk {
		present[id] = true
	}

	var candidates []string
	for _, id := range retired {
		if id != current && id != inUse {
			candidates = append(candidates, id)
		}
	}
	drop := candidates[:max(len(candidates)-max(keep, 0), 0)]

	gone := make(map[string]bool, len(drop))
	var removed []string
	var errs []error
	for _, id := range drop {
		if present[id] {
			if err := b.Discard(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			removed = append(removed, id)
		}
		gone[id] = true
	}
	if len(gone) > 0 {
		var rest []string
		for _, id := range retired {
			if !gone[id] && id != current {
				rest = append(rest, id)
			}
		}
		if err := b.Layout.setSuperseded(rest); err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
