// Package config provides layered configuration for docrag.
// Configuration is loaded with a layered precedence: defaults → .env → YAML
// file → env vars. Environment variables always win; the .env file and the
// YAML file only fill in variables that are not already set.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCRAG_CONFIG environment variable
//  3. ~/.docrag/config.yaml
//  4. ./docrag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat model used for answer synthesis.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorStore selects where vectors are stored.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Parser configures the hosted document parser.
	Parser ParserConfig `yaml:"parser"`

	// Rerank configures the hosted reranker.
	Rerank RerankConfig `yaml:"rerank"`

	// Index configures chunking, retrieval and storage.
	Index IndexConfig `yaml:"index"`

	// Server configures the HTTP server and ingestion queue.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig selects and tunes the chat model. Credentials are better
// supplied through the environment than committed to the file.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"openai"`
	Azure struct {
		APIKey     string `yaml:"api_key"`
		Endpoint   string `yaml:"endpoint"`
		Deployment string `yaml:"deployment"`
		APIVersion string `yaml:"api_version"`
	} `yaml:"azure"`
	Ollama struct {
		Host  string `yaml:"host"`
		Model string `yaml:"model"`
	} `yaml:"ollama"`
	Gemini struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`
	Ark struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"ark"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (openai, azure, ollama, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// VectorStoreConfig selects the vector backend.
type VectorStoreConfig struct {
	// URI is a local file path, file: URI, or qdrant://host:port.
	URI string `yaml:"uri"`
	// APIKey authenticates to Qdrant. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// CollectionPrefix names Qdrant collections.
	CollectionPrefix string `yaml:"collection_prefix"`
}

// ParserConfig holds hosted parsing settings.
type ParserConfig struct {
	// APIKey enables LlamaParse. Prefer env var LLAMA_CLOUD_API_KEY.
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
}

// RerankConfig holds hosted reranker settings.
type RerankConfig struct {
	// APIKey enables Cohere reranking. Prefer env var COHERE_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// IndexConfig holds chunking, retrieval and on-disk layout settings.
type IndexConfig struct {
	StorageDir       string `yaml:"storage_dir"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	TopK             int    `yaml:"top_k"`
	TopN             int    `yaml:"top_n"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	KeepGenerations  int    `yaml:"keep_generations"`
	SystemPrompt     string `yaml:"system_prompt"`
}

// ServerConfig holds HTTP server and ingestion queue settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for /chat and /upload. Prefer env var DOCRAG_API_KEY.
	APIKey      string  `yaml:"api_key"`
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
	UploadDir   string  `yaml:"upload_dir"`
	MaxUploadMB int     `yaml:"max_upload_mb"`
	QueueSize   int     `yaml:"queue_size"`
	JobTimeout  string  `yaml:"job_timeout"`
	ChatTimeout string  `yaml:"chat_timeout"`
	// Watch reloads the engine when another process publishes a generation.
	Watch *bool `yaml:"watch"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"VECTOR_STORE_URI", func(c *Config) string { return c.VectorStore.URI }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorStore.APIKey }},
	{"VECTOR_COLLECTION_PREFIX", func(c *Config) string { return c.VectorStore.CollectionPrefix }},
	{"LLAMA_CLOUD_API_KEY", func(c *Config) string { return c.Parser.APIKey }},
	{"LLAMA_CLOUD_BASE_URL", func(c *Config) string { return c.Parser.BaseURL }},
	{"LLAMA_PARSE_LANGUAGE", func(c *Config) string { return c.Parser.Language }},
	{"COHERE_API_KEY", func(c *Config) string { return c.Rerank.APIKey }},
	{"COHERE_RERANK_MODEL", func(c *Config) string { return c.Rerank.Model }},
	{"COHERE_BASE_URL", func(c *Config) string { return c.Rerank.BaseURL }},
	{"DOCRAG_STORAGE_DIR", func(c *Config) string { return c.Index.StorageDir }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Index.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Index.ChunkOverlap) }},
	{"RETRIEVE_TOP_K", func(c *Config) string { return intStr(c.Index.TopK) }},
	{"RERANK_TOP_N", func(c *Config) string { return intStr(c.Index.TopN) }},
	{"MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Index.MaxContextTokens) }},
	{"DOCRAG_KEEP_GENERATIONS", func(c *Config) string { return intStr(c.Index.KeepGenerations) }},
	{"SYSTEM_PROMPT", func(c *Config) string { return c.Index.SystemPrompt }},
	{"DOCRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCRAG_RATE_LIMIT", func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{"DOCRAG_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"DOCRAG_UPLOAD_DIR", func(c *Config) string { return c.Server.UploadDir }},
	{"DOCRAG_MAX_UPLOAD_MB", func(c *Config) string { return intStr(c.Server.MaxUploadMB) }},
	{"DOCRAG_QUEUE_SIZE", func(c *Config) string { return intStr(c.Server.QueueSize) }},
	{"DOCRAG_JOB_TIMEOUT", func(c *Config) string { return c.Server.JobTimeout }},
	{"DOCRAG_CHAT_TIMEOUT", func(c *Config) string { return c.Server.ChatTimeout }},
	{"DOCRAG_WATCH", func(c *Config) string { return boolPtrStr(c.Server.Watch) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv applies variables from a .env file without overriding the
// environment. A missing file is not an error. It returns whether a file
// was loaded.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return true, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied, err := applyEnv(&cfg)
	if err != nil {
		return "", err
	}
	log.Info("config: loaded YAML config", slog.String("path", path), slog.Int("keys_applied", applied))
	return path, nil
}

// applyEnv exports the non-empty values of cfg whose variables are unset.
func applyEnv(cfg *Config) (int, error) {
	applied := 0
	for _, m := range envMapping {
		v := m.value(cfg)
		if v == "" || os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return applied, fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}
	return applied, nil
}

// resolveConfigPath returns the first existing config file. An explicit
// path that does not exist disables the search.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if fileExists(explicit) {
			return explicit
		}
		return ""
	}
	candidates := []string{os.Getenv("DOCRAG_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docrag", "config.yaml"))
	}
	candidates = append(candidates, "docrag.yaml")
	for _, c := range candidates {
		if c != "" && fileExists(c) {
			return c
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolPtrStr renders an explicitly set bool; nil means unset.
func boolPtrStr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
