// Package store provides the SQLite-backed metadata store of an index
// generation: the node table (ID, document, position, text) that vector hits
// are hydrated from, and the manifest describing how the generation was
// built. One docstore.db file lives in each generation directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/54b3r/docrag/internal/rag"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// FileName is the docstore file name inside a generation directory.
const FileName = "docstore.db"

// ErrNoManifest is returned by Manifest when the generation was never sealed.
var ErrNoManifest = errors.New("store: manifest not found")

// Manifest records how a generation was built. The loader uses it to reopen
// the matching vector store and to verify the generation is complete.
type Manifest struct {
	// Generation is the generation ID.
	Generation string
	// DocName is the source document the generation was built from.
	DocName string
	// Backend is the vector backend the vectors were written to.
	Backend rag.Backend
	// EmbeddingModel is the model that produced the vectors.
	EmbeddingModel string
	// Dimensions is the vector size.
	Dimensions int
	// NodeCount is the number of nodes (and vectors) in the generation.
	NodeCount int
	// CreatedAt is when the generation was sealed.
	CreatedAt time.Time
}

// DocStore is the node and manifest store of one generation.
type DocStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Create makes a new, empty docstore at path. An existing file is an error:
// generations are written once.
func Create(path string) (*DocStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("store: %s already exists", path)
		}
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = s.db.Close()
		return nil, err
	}
	return s, nil
}

// Open opens an existing docstore read-write. A missing file is an error.
func Open(path string) (*DocStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: %s does not exist", path)
		}
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}
	return open(path)
}

func open(path string) (*DocStore, error) {
	// WAL lets queries read while a connection is held elsewhere.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)
	return &DocStore{db: db}, nil
}

// migrate creates the schema.
func (s *DocStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
    id         TEXT    PRIMARY KEY,
    doc_name   TEXT    NOT NULL,
    position   INTEGER NOT NULL,
    text       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_doc_position ON nodes (doc_name, position);
CREATE TABLE IF NOT EXISTS manifest (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    generation      TEXT    NOT NULL,
    doc_name        TEXT    NOT NULL,
    backend         TEXT    NOT NULL,
    embedding_model TEXT    NOT NULL,
    dimensions      INTEGER NOT NULL,
    node_count      INTEGER NOT NULL,
    created_at      INTEGER NOT NULL  -- Unix timestamp (seconds)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// PutNodes inserts a batch of nodes in one transaction.
func (s *DocStore) PutNodes(ctx context.Context, nodes []rag.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (id, doc_name, position, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.ID, n.DocName, n.Index, n.Text); err != nil {
			return fmt.Errorf("store: insert node %s: %w", n.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Nodes returns the nodes for ids keyed by ID. Unknown IDs are absent.
func (s *DocStore) Nodes(ctx context.Context, ids []string) (map[string]rag.Node, error) {
	out := make(map[string]rag.Node, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT id, doc_name, position, text FROM nodes WHERE id IN (` + placeholders + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n rag.Node
		if err := rows.Scan(&n.ID, &n.DocName, &n.Index, &n.Text); err != nil {
			return nil, fmt.Errorf("store: nodes scan: %w", err)
		}
		out[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: nodes rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored nodes.
func (s *DocStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// PutManifest seals the generation. It may be written only once.
func (s *DocStore) PutManifest(ctx context.Context, m Manifest) error {
	const q = `
INSERT INTO manifest (id, generation, doc_name, backend, embedding_model, dimensions, node_count, created_at)
VALUES (1, ?, ?, ?, ?, ?, ?, ?)`
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q, m.Generation, m.DocName, string(m.Backend),
		m.EmbeddingModel, m.Dimensions, m.NodeCount, m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: put manifest: %w", err)
	}
	return nil
}

// Manifest returns the generation manifest, or ErrNoManifest.
func (s *DocStore) Manifest(ctx context.Context) (Manifest, error) {
	const q = `
SELECT generation, doc_name, backend, embedding_model, dimensions, node_count, created_at
FROM manifest WHERE id = 1`
	var m Manifest
	var backend string
	var ts int64
	err := s.db.QueryRowContext(ctx, q).Scan(&m.Generation, &m.DocName, &backend,
		&m.EmbeddingModel, &m.Dimensions, &m.NodeCount, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return Manifest{}, ErrNoManifest
		}
		return Manifest{}, fmt.Errorf("store: manifest: %w", err)
	}
	m.Backend = rag.Backend(backend)
	m.CreatedAt = time.Unix(ts, 0)
	return m, nil
}

// Close releases the database connection pool.
func (s *DocStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
