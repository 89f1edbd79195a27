// Package rerank re-scores retrieved nodes against the query and keeps the
// most relevant ones. The Cohere reranker calls the Cohere Rerank API; the
// passthrough reranker keeps retrieval order and is used when no API key is
// configured.
package rerank

import (
	"context"
	"sort"

	"github.com/54b3r/docrag/internal/rag"
)

// Reranker re-orders candidate nodes by relevance to query.
type Reranker interface {
	// Rerank returns at most topN nodes ordered by descending relevance, with
	// Score set to the reranker's relevance score.
	Rerank(ctx context.Context, query string, nodes []rag.Node, topN int) ([]rag.Node, error)

	// Name identifies the reranker in logs.
	Name() string
}

// Passthrough keeps the retriever's similarity ordering and truncates to topN.
type Passthrough struct{}

// Rerank sorts by existing score and truncates.
func (Passthrough) Rerank(_ context.Context, _ string, nodes []rag.Node, topN int) ([]rag.Node, error) {
	out := make([]rag.Node, len(nodes))
	copy(out, nodes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// Name returns "passthrough".
func (Passthrough) Name() string { return "passthrough" }
