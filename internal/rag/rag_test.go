package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ---------------------------------------------------------------------------
// ParseLocation
// ---------------------------------------------------------------------------

func TestParseLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Location
		wantErr bool
	}{
		{name: "empty uses default file", raw: "", want: Location{Backend: BackendLocal, FileName: "milvus_rag.db"}},
		{name: "relative file", raw: "./data/vectors.db", want: Location{Backend: BackendLocal, FileName: "vectors.db"}},
		{name: "file prefix", raw: "file:v.db", want: Location{Backend: BackendLocal, FileName: "v.db"}},
		{name: "file scheme", raw: "file:///var/lib/v.db", want: Location{Backend: BackendLocal, FileName: "v.db"}},
		{name: "qdrant default port", raw: "qdrant://qdrant", want: Location{Backend: BackendQdrant, Host: "qdrant", Port: 6334}},
		{name: "qdrant explicit port", raw: "qdrant://localhost:7000", want: Location{Backend: BackendQdrant, Host: "localhost", Port: 7000}},
		{name: "qdrant tls", raw: "qdrants://cloud.example.com", want: Location{Backend: BackendQdrant, Host: "cloud.example.com", Port: 6334, UseTLS: true}},
		{name: "qdrant missing host", raw: "qdrant://:6334", wantErr: true},
		{name: "qdrant bad port", raw: "qdrant://h:notaport", wantErr: true},
		{name: "unsupported scheme", raw: "http://milvus:19530", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLocation(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLocation(%q): want error, got %+v", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("ParseLocation(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestLocation_CollectionName(t *testing.T) {
	t.Parallel()
	loc := Location{Backend: BackendQdrant, CollectionPrefix: "kb"}
	if got := loc.CollectionName("gen-20260101-abc"); got != "kb_gen_20260101_abc" {
		t.Errorf("CollectionName = %q", got)
	}
	if got := (Location{}).CollectionName("g1"); got != "docrag_g1" {
		t.Errorf("default prefix CollectionName = %q", got)
	}
}

// ---------------------------------------------------------------------------
// LocalStore
// ---------------------------------------------------------------------------

func TestLocalStore_UpsertSearchCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := OpenLocalStore(path, 3, true)
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ids := []string{"a", "b", "c"}
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}}
	if err := s.Upsert(ctx, ids, vecs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("want 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "c" {
		t.Errorf("hit order = %s,%s; want a,c", hits[0].ID, hits[1].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted by score: %v", hits)
	}
}

func TestLocalStore_RejectsWrongDimensions(t *testing.T) {
	t.Parallel()
	s, err := OpenLocalStore(filepath.Join(t.TempDir(), "v.db"), 2, true)
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Upsert(context.Background(), []string{"x"}, [][]float32{{1, 2, 3}}); err == nil {
		t.Error("Upsert with 3-dim vector into 2-dim store: want error")
	}
	if _, err := s.Search(context.Background(), []float32{1}, 1); err == nil {
		t.Error("Search with 1-dim query: want error")
	}
}

func TestLocalStore_ReopenKeepsDimsAndData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v.db")

	s, err := OpenLocalStore(path, 2, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Upsert(ctx, []string{"n1"}, [][]float32{{0.5, 0.5}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	_ = s.Close()

	r, err := OpenLocalStore(path, 0, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	if r.Dimensions() != 2 {
		t.Errorf("Dimensions = %d, want 2", r.Dimensions())
	}
	if n, _ := r.Count(ctx); n != 1 {
		t.Errorf("Count after reopen = %d, want 1", n)
	}
}

func TestLocalStore_OpenMissingWithoutCreateFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "absent.db")
	if _, err := OpenLocalStore(path, 2, false); err == nil {
		t.Fatal("want error opening missing store")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("open without create must not create %s", path)
	}
}

func TestLocalStore_DropRemovesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "v.db")
	s, err := OpenLocalStore(path, 2, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Drop(context.Background()); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present after Drop: %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.9999 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("length mismatch = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 2}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// DefaultRetriever
// ---------------------------------------------------------------------------

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type mapLookup map[string]Node

func (m mapLookup) Nodes(_ context.Context, ids []string) (map[string]Node, error) {
	out := make(map[string]Node, len(ids))
	for _, id := range ids {
		if n, ok := m[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func TestRetriever_HydratesHitsInScoreOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	vs, err := OpenLocalStore(filepath.Join(t.TempDir(), "v.db"), 2, true)
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = vs.Close() })
	if err := vs.Upsert(ctx, []string{"near", "far", "orphan"}, [][]float32{{1, 0.1}, {0.1, 1}, {1, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	lookup := mapLookup{
		"near": {ID: "near", Text: "near text"},
		"far":  {ID: "far", Text: "far text"},
	}
	r, err := NewRetriever(fakeEmbedder{vec: []float32{1, 0}}, vs, lookup, 10)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	nodes, err := r.Retrieve(ctx, "query", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("want 2 nodes (orphan skipped), got %d", len(nodes))
	}
	if nodes[0].ID != "near" || nodes[0].Score <= nodes[1].Score {
		t.Errorf("unexpected order or scores: %+v", nodes)
	}
}

func TestRetriever_EmbedErrorPropagates(t *testing.T) {
	t.Parallel()
	vs, err := OpenLocalStore(filepath.Join(t.TempDir(), "v.db"), 2, true)
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	t.Cleanup(func() { _ = vs.Close() })

	boom := errors.New("boom")
	r, _ := NewRetriever(fakeEmbedder{err: boom}, vs, mapLookup{}, 3)
	if _, err := r.Retrieve(context.Background(), "q", 0); !errors.Is(err, boom) {
		t.Errorf("want wrapped boom, got %v", err)
	}
}

func TestNewRetriever_RejectsNil(t *testing.T) {
	t.Parallel()
	if _, err := NewRetriever(nil, nil, nil, 0); err == nil {
		t.Error("want error for nil dependencies")
	}
}
