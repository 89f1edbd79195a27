package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
vector_store:
  uri: qdrant://qdrant.internal:6334
  collection_prefix: handbook
rerank:
  model: rerank-multilingual-v3.0
index:
  chunk_size: 512
  top_k: 8
server:
  port: 9000
  job_timeout: 5m
  watch: false
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT", "AZURE_OPENAI_API_VERSION",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"VECTOR_STORE_URI", "VECTOR_COLLECTION_PREFIX", "COHERE_RERANK_MODEL",
		"CHUNK_SIZE", "RETRIEVE_TOP_K", "DOCRAG_PORT", "DOCRAG_JOB_TIMEOUT", "DOCRAG_WATCH",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":           "azure",
		"MODEL_MAX_TOKENS":         "8192",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
		"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
		"EMBEDDING_PROVIDER":       "ollama",
		"EMBEDDING_MODEL":          "nomic-embed-text",
		"VECTOR_STORE_URI":         "qdrant://qdrant.internal:6334",
		"VECTOR_COLLECTION_PREFIX": "handbook",
		"COHERE_RERANK_MODEL":      "rerank-multilingual-v3.0",
		"CHUNK_SIZE":               "512",
		"RETRIEVE_TOP_K":           "8",
		"DOCRAG_PORT":              "9000",
		"DOCRAG_JOB_TIMEOUT":       "5m",
		"DOCRAG_WATCH":             "false",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("MODEL_PROVIDER", "azure")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOCRAG_TEST_FROM_DOTENV=dotenv\nDOCRAG_TEST_PRESET=dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCRAG_TEST_FROM_DOTENV", "")
	os.Unsetenv("DOCRAG_TEST_FROM_DOTENV")
	t.Setenv("DOCRAG_TEST_PRESET", "env")

	loaded, err := LoadDotEnv(path)
	if err != nil || !loaded {
		t.Fatalf("LoadDotEnv = %v, %v", loaded, err)
	}
	if got := os.Getenv("DOCRAG_TEST_FROM_DOTENV"); got != "dotenv" {
		t.Errorf("unset var: got %q, want dotenv", got)
	}
	if got := os.Getenv("DOCRAG_TEST_PRESET"); got != "env" {
		t.Errorf(".env must not override the environment, got %q", got)
	}

	loaded, err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	if err != nil || loaded {
		t.Errorf("missing file: got %v, %v; want false, nil", loaded, err)
	}
}

// clearSettingsEnv unsets every variable FromEnv reads.
func clearSettingsEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DOCRAG_STORAGE_DIR", "DOCRAG_UPLOAD_DIR", "VECTOR_STORE_URI", "MILVUS_URI",
		"QDRANT_API_KEY", "VECTOR_COLLECTION_PREFIX", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"RETRIEVE_TOP_K", "RERANK_TOP_N", "MAX_CONTEXT_TOKENS", "DOCRAG_KEEP_GENERATIONS",
		"SYSTEM_PROMPT", "COHERE_API_KEY", "COHERE_RERANK_MODEL", "COHERE_BASE_URL",
		"LLAMA_CLOUD_API_KEY", "LLAMA_CLOUD_BASE_URL", "LLAMA_PARSE_LANGUAGE",
		"DOCRAG_HOST", "DOCRAG_PORT", "DOCRAG_API_KEY", "DOCRAG_RATE_LIMIT", "DOCRAG_RATE_BURST",
		"DOCRAG_MAX_UPLOAD_MB", "DOCRAG_QUEUE_SIZE", "DOCRAG_JOB_TIMEOUT", "DOCRAG_CHAT_TIMEOUT",
		"DOCRAG_WATCH",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearSettingsEnv(t)

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.StorageDir != "./storage_rag" || s.UploadDir != "./data_uploads" {
		t.Errorf("dirs = %q, %q", s.StorageDir, s.UploadDir)
	}
	if s.VectorURI != "" {
		t.Errorf("VectorURI = %q, want empty (backend default)", s.VectorURI)
	}
	if s.ChunkSize != 1024 || s.ChunkOverlap != 200 || s.TopK != 10 || s.TopN != 3 {
		t.Errorf("retrieval defaults wrong: %+v", s)
	}
	if s.Host != "0.0.0.0" || s.Port != 8000 {
		t.Errorf("listen address = %s:%d", s.Host, s.Port)
	}
	if s.MaxUploadBytes() != 50<<20 || s.QueueSize != 16 || s.JobTimeout != 15*time.Minute || !s.Watch {
		t.Errorf("server defaults wrong: %+v", s)
	}
}

func TestFromEnv_MilvusURIAlias(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("MILVUS_URI", "./legacy.db")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.VectorURI != "./legacy.db" {
		t.Errorf("VectorURI = %q, want MILVUS_URI value", s.VectorURI)
	}

	t.Setenv("VECTOR_STORE_URI", "qdrant://localhost:6334")
	s, _ = FromEnv()
	if s.VectorURI != "qdrant://localhost:6334" {
		t.Errorf("VECTOR_STORE_URI must win over MILVUS_URI, got %q", s.VectorURI)
	}
}

func TestFromEnv_InvalidValuesReportedTogether(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("CHUNK_SIZE", "big")
	t.Setenv("DOCRAG_JOB_TIMEOUT", "soon")
	t.Setenv("DOCRAG_WATCH", "maybe")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"CHUNK_SIZE", "DOCRAG_JOB_TIMEOUT", "DOCRAG_WATCH"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
}

func TestFromEnv_TopNBoundedByTopK(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("RETRIEVE_TOP_K", "2")
	t.Setenv("RERANK_TOP_N", "5")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "RERANK_TOP_N") {
		t.Errorf("expected RERANK_TOP_N error, got %v", err)
	}
}

func TestResolveConfigPath_EnvVariable(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "from-env.yaml")
	if err := os.WriteFile(cfgPath, []byte("index:\n  top_k: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCRAG_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath() = %q, want %q", got, cfgPath)
	}
	// An explicit path that does not exist stops the search.
	if got := resolveConfigPath(filepath.Join(dir, "missing.yaml")); got != "" {
		t.Errorf("resolveConfigPath(missing) = %q, want empty", got)
	}
	// Directories are not config files.
	if got := resolveConfigPath(dir); got != "" {
		t.Errorf("resolveConfigPath(dir) = %q, want empty", got)
	}
}
