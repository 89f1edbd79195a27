package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the typed application settings resolved from the environment
// after Load has applied the YAML file. Model and embedding settings are
// resolved separately by the provider and embedder packages.
type Settings struct {
	// StorageDir holds generations and the CURRENT pointer.
	StorageDir string
	// UploadDir receives uploaded files.
	UploadDir string

	// VectorURI selects the vector backend (VECTOR_STORE_URI, alias MILVUS_URI).
	VectorURI string
	// QdrantAPIKey authenticates to a remote Qdrant.
	QdrantAPIKey string
	// CollectionPrefix names Qdrant collections.
	CollectionPrefix string

	// ChunkSize is the target node size in characters (CHUNK_SIZE).
	ChunkSize int
	// ChunkOverlap is the text shared by neighbouring nodes (CHUNK_OVERLAP).
	ChunkOverlap int
	// TopK is the number of nodes retrieved per query (RETRIEVE_TOP_K).
	TopK int
	// TopN is the number of reranked nodes given to the model (RERANK_TOP_N).
	TopN int
	// MaxContextTokens bounds the prompt; 0 uses the engine default.
	MaxContextTokens int
	// KeepGenerations is the number of superseded generations kept for rollback.
	KeepGenerations int
	// SystemPrompt replaces the built-in synthesis prompt when set.
	SystemPrompt string

	// CohereAPIKey enables Cohere reranking; empty selects passthrough.
	CohereAPIKey string
	// CohereModel is the rerank model (default rerank-english-v3.0).
	CohereModel string
	// CohereBaseURL overrides the Cohere API endpoint.
	CohereBaseURL string

	// LlamaAPIKey enables LlamaParse for non-text uploads.
	LlamaAPIKey string
	// LlamaBaseURL overrides the LlamaParse API endpoint.
	LlamaBaseURL string
	// LlamaLanguage is the document language hint sent to LlamaParse.
	LlamaLanguage string

	// Host is the listen host (DOCRAG_HOST).
	Host string
	// Port is the listen port (DOCRAG_PORT).
	Port int
	// APIKey is the Bearer token for /chat and /upload; empty disables auth.
	APIKey string
	// RateLimit is the per-client request rate on /chat and /upload.
	RateLimit float64
	// RateBurst is the per-client burst size.
	RateBurst int
	// MaxUploadMB caps the upload body size.
	MaxUploadMB int
	// QueueSize is the number of uploads that may wait for the worker.
	QueueSize int
	// JobTimeout bounds one ingestion.
	JobTimeout time.Duration
	// ChatTimeout bounds one /chat query.
	ChatTimeout time.Duration
	// Watch reloads the engine when another process publishes a generation.
	Watch bool
}

// Defaults used when the environment does not say otherwise.
const (
	DefaultStorageDir   = "./storage_rag"
	DefaultUploadDir    = "./data_uploads"
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 200
	DefaultTopK         = 10
	DefaultTopN         = 3
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8000
	DefaultMaxUploadMB  = 50
	DefaultQueueSize    = 16
	DefaultJobTimeout   = 15 * time.Minute
	DefaultChatTimeout  = 2 * time.Minute
)

// FromEnv resolves Settings from the environment. Malformed numeric, boolean
// or duration values are reported together.
func FromEnv() (Settings, error) {
	p := &envParser{}
	s := Settings{
		StorageDir: p.text("DOCRAG_STORAGE_DIR", DefaultStorageDir),
		UploadDir:  p.text("DOCRAG_UPLOAD_DIR", DefaultUploadDir),

		VectorURI:        firstNonEmpty(os.Getenv("VECTOR_STORE_URI"), os.Getenv("MILVUS_URI")),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		CollectionPrefix: os.Getenv("VECTOR_COLLECTION_PREFIX"),

		ChunkSize:        p.integer("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:     p.integer("CHUNK_OVERLAP", DefaultChunkOverlap),
		TopK:             p.integer("RETRIEVE_TOP_K", DefaultTopK),
		TopN:             p.integer("RERANK_TOP_N", DefaultTopN),
		MaxContextTokens: p.integer("MAX_CONTEXT_TOKENS", 0),
		KeepGenerations:  p.integer("DOCRAG_KEEP_GENERATIONS", 0),
		SystemPrompt:     os.Getenv("SYSTEM_PROMPT"),

		CohereAPIKey:  os.Getenv("COHERE_API_KEY"),
		CohereModel:   os.Getenv("COHERE_RERANK_MODEL"),
		CohereBaseURL: os.Getenv("COHERE_BASE_URL"),

		LlamaAPIKey:   os.Getenv("LLAMA_CLOUD_API_KEY"),
		LlamaBaseURL:  os.Getenv("LLAMA_CLOUD_BASE_URL"),
		LlamaLanguage: os.Getenv("LLAMA_PARSE_LANGUAGE"),

		Host:        p.text("DOCRAG_HOST", DefaultHost),
		Port:        p.integer("DOCRAG_PORT", DefaultPort),
		APIKey:      os.Getenv("DOCRAG_API_KEY"),
		RateLimit:   p.number("DOCRAG_RATE_LIMIT", 0),
		RateBurst:   p.integer("DOCRAG_RATE_BURST", 0),
		MaxUploadMB: p.integer("DOCRAG_MAX_UPLOAD_MB", DefaultMaxUploadMB),
		QueueSize:   p.integer("DOCRAG_QUEUE_SIZE", DefaultQueueSize),
		JobTimeout:  p.duration("DOCRAG_JOB_TIMEOUT", DefaultJobTimeout),
		ChatTimeout: p.duration("DOCRAG_CHAT_TIMEOUT", DefaultChatTimeout),
		Watch:       p.flag("DOCRAG_WATCH", true),
	}

	if s.ChunkSize <= 0 {
		p.fail("CHUNK_SIZE", "must be positive")
	}
	if s.ChunkOverlap < 0 {
		p.fail("CHUNK_OVERLAP", "must not be negative")
	}
	if s.TopN > s.TopK {
		p.fail("RERANK_TOP_N", fmt.Sprintf("(%d) must not exceed RETRIEVE_TOP_K (%d)", s.TopN, s.TopK))
	}
	if s.Port <= 0 || s.Port > 65535 {
		p.fail("DOCRAG_PORT", "must be between 1 and 65535")
	}
	return s, errors.Join(p.errs...)
}

// MaxUploadBytes is the upload cap in bytes.
func (s Settings) MaxUploadBytes() int64 { return int64(s.MaxUploadMB) << 20 }

// envParser reads typed variables and collects parse errors.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, msg string) {
	p.errs = append(p.errs, fmt.Errorf("config: %s %s", key, msg))
}

func (p *envParser) text(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *envParser) integer(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("is not an integer: %q", v))
		return fallback
	}
	return n
}

func (p *envParser) number(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, fmt.Sprintf("is not a number: %q", v))
		return fallback
	}
	return f
}

func (p *envParser) flag(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("is not a boolean: %q", v))
		return fallback
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("is not a duration: %q", v))
		return fallback
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
