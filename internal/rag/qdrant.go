package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig addresses one collection on a Qdrant server. Host and Port
// default to localhost:6334 (gRPC).
type QdrantConfig struct {
	// Host is the Qdrant hostname from VECTOR_STORE_URI.
	Host string
	// Port is the gRPC port; 0 means 6334.
	Port int
	// APIKey authenticates against Qdrant Cloud; empty for local instances.
	APIKey string
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool
	// Collection is the collection this store reads and writes.
	Collection string
	// VectorSize is only consulted when the collection is created.
	VectorSize uint64
}

// QdrantStore is a VectorStore over a single collection. Each index
// generation owns its own collection.
type QdrantStore struct {
	// client is owned by the store and closed by Close or Drop.
	client *qdrant.Client
	// cfg names the collection and its vector size.
	cfg *QdrantConfig
}

// NewQdrantClient dials a Qdrant instance without touching any collection.
// The serve command uses it for readiness checks.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// NewQdrantStore connects to Qdrant and binds the store to cfg.Collection.
// With create set, any existing collection of that name is replaced by an
// empty one; otherwise the collection must already exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig, create bool) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name must not be empty")
	}
	client, err := NewQdrantClient(cfg)
	if err != nil {
		return nil, err
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.prepare(ctx, create); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) prepare(ctx context.Context, create bool) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: lookup collection %q: %w", s.cfg.Collection, err)
	}
	if !create {
		if !exists {
			return fmt.Errorf("qdrant: collection %q does not exist", s.cfg.Collection)
		}
		return nil
	}

	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to clear collection %q: %w", s.cfg.Collection, err)
		}
	}
	if s.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: vector size must be set to create collection %q", s.cfg.Collection)
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores a batch of vectors keyed by node ID and waits for the write
// to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("qdrant: %d ids but %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{"node_id": id}),
		})
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %q: %w", len(points), s.cfg.Collection, err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k hits.
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q: %w", s.cfg.Collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id := r.GetId().GetUuid()
		if v, ok := r.GetPayload()["node_id"]; ok && v.GetStringValue() != "" {
			id = v.GetStringValue()
		}
		hits = append(hits, Hit{ID: id, Score: r.GetScore()})
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count %q: %w", s.cfg.Collection, err)
	}
	return int(n), nil
}

// Drop deletes the collection and closes the connection.
func (s *QdrantStore) Drop(ctx context.Context) error {
	err := s.client.DeleteCollection(ctx, s.cfg.Collection)
	_ = s.client.Close()
	if err != nil {
		return fmt.Errorf("qdrant: failed to delete collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Close releases the gRPC connection; the collection is kept.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
