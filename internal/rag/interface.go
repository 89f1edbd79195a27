// Package rag defines the retrieval building blocks shared by the index
// builder and the query engine: the Node chunk type, vector storage,
// embedding, and node lookup. Concrete backends (local SQLite file, Qdrant)
// satisfy these interfaces so the engine never depends on a specific one.
package rag

import (
	"context"
)

// Node is one chunk of a source document. Its ID is shared between the
// vector collection and the metadata store of a generation.
type Node struct {
	// ID is the unique identifier for this chunk (a UUID).
	ID string

	// DocName is the file name of the document the chunk was cut from.
	DocName string

	// Index is the position of the chunk within its document, starting at 0.
	Index int

	// Text is the chunk's raw text.
	Text string

	// Score is the relevance assigned during retrieval or reranking.
	// Zero means the score was not computed.
	Score float32
}

// Hit is a single vector search result: a node ID and its cosine similarity
// to the query vector.
type Hit struct {
	// ID is the node ID the matching vector was stored under.
	ID string

	// Score is the cosine similarity to the query.
	Score float32
}

// VectorStore persists node embeddings for one generation and answers
// similarity searches over them. Implementations must be safe to call from
// multiple goroutines.
type VectorStore interface {
	// Upsert stores a batch of vectors. vectors[i] belongs to ids[i].
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns up to topK hits ordered by descending score.
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Drop removes the backing collection or file entirely. The store must
	// not be used afterwards.
	Drop(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// NodeLookup resolves node IDs to their stored text and metadata.
type NodeLookup interface {
	// Nodes returns the nodes for the given IDs keyed by ID. Unknown IDs are
	// absent from the result.
	Nodes(ctx context.Context, ids []string) (map[string]Node, error)
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the nodes most relevant to a query.
type Retriever interface {
	// Retrieve returns up to topK nodes ordered by descending score.
	Retrieve(ctx context.Context, query string, topK int) ([]Node, error)
}
