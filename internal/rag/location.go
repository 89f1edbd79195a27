package rag

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Backend names a vector store implementation.
type Backend string

const (
	// BackendLocal stores vectors in a SQLite file inside each generation directory.
	BackendLocal Backend = "local"
	// BackendQdrant stores vectors in one Qdrant collection per generation.
	BackendQdrant Backend = "qdrant"
)

// DefaultVectorURI is used when no vector store URI is configured.
const DefaultVectorURI = "./milvus_rag.db"

// Location describes where generations keep their vectors.
type Location struct {
	// Backend selects the implementation.
	Backend Backend

	// FileName is the local vector file name. Only its base name is used: the
	// file always lives inside the generation directory.
	FileName string

	// Host is the Qdrant hostname.
	Host string

	// Port is the Qdrant gRPC port.
	Port int

	// UseTLS enables TLS for the Qdrant connection.
	UseTLS bool

	// APIKey authenticates against Qdrant Cloud.
	APIKey string

	// CollectionPrefix is joined with the generation ID to name collections.
	CollectionPrefix string
}

// ParseLocation interprets a vector store URI:
//
//	""                      local file "milvus_rag.db"
//	./name.db, file:name.db local SQLite file
//	qdrant://host[:port]    Qdrant over plaintext gRPC (port 6334)
//	qdrants://host[:port]   Qdrant over TLS
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultVectorURI
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		name := strings.TrimPrefix(raw, "file:")
		base := filepath.Base(name)
		if base == "." || base == string(filepath.Separator) {
			return Location{}, fmt.Errorf("rag: vector store URI %q has no file name", raw)
		}
		return Location{Backend: BackendLocal, FileName: base}, nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		return ParseLocation(rest)
	case "qdrant", "qdrants":
		u, err := url.Parse("tcp://" + rest)
		if err != nil {
			return Location{}, fmt.Errorf("rag: invalid qdrant URI %q: %w", raw, err)
		}
		loc := Location{
			Backend: BackendQdrant,
			Host:    u.Hostname(),
			Port:    6334,
			UseTLS:  strings.EqualFold(scheme, "qdrants"),
		}
		if loc.Host == "" {
			return Location{}, fmt.Errorf("rag: qdrant URI %q has no host", raw)
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				return Location{}, fmt.Errorf("rag: qdrant URI %q has invalid port %q", raw, p)
			}
			loc.Port = port
		}
		return loc, nil
	default:
		return Location{}, fmt.Errorf("rag: unsupported vector store scheme %q (use a file path, qdrant:// or qdrants://)", scheme)
	}
}

// String renders the location for logs.
func (l Location) String() string {
	if l.Backend == BackendQdrant {
		scheme := "qdrant"
		if l.UseTLS {
			scheme = "qdrants"
		}
		return scheme + "://" + net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
	}
	return "file:" + l.FileName
}

// CollectionName returns the Qdrant collection used by a generation.
func (l Location) CollectionName(generation string) string {
	prefix := l.CollectionPrefix
	if prefix == "" {
		prefix = "docrag"
	}
	return prefix + "_" + strings.ReplaceAll(generation, "-", "_")
}

// Open opens the vector store of a generation whose files live in genDir.
// With create set a fresh, empty store for dims-dimensional vectors is made.
func (l Location) Open(ctx context.Context, genDir, generation string, dims int, create bool) (VectorStore, error) {
	switch l.Backend {
	case BackendLocal:
		return OpenLocalStore(filepath.Join(genDir, l.FileName), dims, create)
	case BackendQdrant:
		return NewQdrantStore(ctx, &QdrantConfig{
			Host:       l.Host,
			Port:       l.Port,
			Collection: l.CollectionName(generation),
			VectorSize: uint64(dims),
			APIKey:     l.APIKey,
			UseTLS:     l.UseTLS,
		}, create)
	default:
		return nil, fmt.Errorf("rag: unknown vector backend %q", l.Backend)
	}
}
