package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements Retriever by embedding the query, searching the
// vector store, and hydrating the hits from the node lookup.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// nodes resolves hit IDs to node text.
	nodes NodeLookup

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever. defaultTopK sets the fallback
// result count when Retrieve is called with topK=0.
func NewRetriever(embedder Embedder, store VectorStore, nodes NodeLookup, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if nodes == nil {
		return nil, fmt.Errorf("rag: node lookup must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 10
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		nodes:       nodes,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most relevant nodes.
// Hits whose node is missing from the lookup are skipped.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Node, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	hits, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := r.nodes.Nodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("rag: node lookup failed: %w", err)
	}

	out := make([]Node, 0, len(hits))
	for _, h := range hits {
		n, ok := byID[h.ID]
		if !ok {
			continue
		}
		n.Score = h.Score
		out = append(out, n)
	}
	return out, nil
}
