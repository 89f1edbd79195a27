package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// LocalStore is a file-backed VectorStore for single-host deployments. It
// keeps vectors in a SQLite table and answers searches by brute-force cosine
// similarity, which is adequate for the single-document knowledge bases this
// service builds.
type LocalStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// path is the database file, removed by Drop.
	path string

	// dims is the vector dimensionality recorded at creation.
	dims int
}

// OpenLocalStore opens the vector file at path. With create set the file is
// created (or truncated) for dims-dimensional vectors; otherwise it must
// already exist and its recorded dimensionality is used.
func OpenLocalStore(path string, dims int, create bool) (*LocalStore, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("localstore: stat %s: %w", path, err)
		}
		if !create {
			return nil, fmt.Errorf("localstore: %s does not exist", path)
		}
	} else if create {
		if err := removeSQLiteFiles(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &LocalStore{db: db, path: path, dims: dims}
	if create {
		err = s.migrate(dims)
	} else {
		err = s.loadDims()
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) migrate(dims int) error {
	if dims <= 0 {
		return fmt.Errorf("localstore: dimensions must be positive, got %d", dims)
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vectors (
    id     TEXT PRIMARY KEY,
    vector BLOB NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("localstore: migrate: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('dims', ?)`, fmt.Sprint(dims)); err != nil {
		return fmt.Errorf("localstore: record dims: %w", err)
	}
	return nil
}

func (s *LocalStore) loadDims() error {
	var v string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'dims'`).Scan(&v); err != nil {
		return fmt.Errorf("localstore: read dims: %w", err)
	}
	if _, err := fmt.Sscan(v, &s.dims); err != nil {
		return fmt.Errorf("localstore: parse dims %q: %w", v, err)
	}
	return nil
}

// Dimensions returns the vector size this store was created for.
func (s *LocalStore) Dimensions() int { return s.dims }

// Upsert stores a batch of vectors in a single transaction.
func (s *LocalStore) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("localstore: %d ids but %d vectors", len(ids), len(vectors))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO vectors (id, vector) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("localstore: prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if len(vectors[i]) != s.dims {
			return fmt.Errorf("localstore: vector %s has %d dimensions, want %d", id, len(vectors[i]), s.dims)
		}
		if _, err := stmt.ExecContext(ctx, id, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("localstore: insert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("localstore: commit: %w", err)
	}
	return nil
}

// Search scans every stored vector and returns the topK most similar.
func (s *LocalStore) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("localstore: query has %d dimensions, want %d", len(query), s.dims)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("localstore: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("localstore: search scan: %w", err)
		}
		hits = append(hits, Hit{ID: id, Score: CosineSimilarity(query, decodeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: search rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of stored vectors.
func (s *LocalStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("localstore: count: %w", err)
	}
	return n, nil
}

// Drop closes the store and deletes its file.
func (s *LocalStore) Drop(_ context.Context) error {
	_ = s.db.Close()
	return removeSQLiteFiles(s.path)
}

// Close releases the database connection pool.
func (s *LocalStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("localstore: close: %w", err)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// removeSQLiteFiles deletes a database file along with its WAL sidecars.
func removeSQLiteFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("localstore: remove %s: %w", p, err)
		}
	}
	return nil
}
