package provider

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Model defaults per backend. Ark has no default model: an endpoint ID is
// account specific.
const (
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultAzureAPIVersion = "2024-02-01"
	defaultOllamaHost      = "http://localhost:11434"
	defaultOllamaModel     = "llama3"
	defaultGeminiModel     = "gemini-1.5-flash"
	defaultMaxTokens       = 1024
	defaultTemperature     = 0.2
)

// constructors maps each backend to the function that builds its chat model.
var constructors = map[Backend]func(context.Context, *Config) (model.BaseChatModel, error){
	BackendOpenAI: newOpenAI,
	BackendAzure:  newAzure,
	BackendOllama: newOllama,
	BackendGemini: newGemini,
	BackendArk:    newArk,
}

// ConfigFromEnv resolves the chat model configuration from the environment.
//
//	MODEL_PROVIDER  openai | azure | ollama | gemini | ark (default openai)
//	OpenAI          OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
//	Azure           AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT,
//	                AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	Ollama          OLLAMA_HOST, OLLAMA_MODEL
//	Gemini          GOOGLE_API_KEY, GEMINI_MODEL
//	Ark             ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Tuning          MODEL_MAX_TOKENS, MODEL_TEMPERATURE
//
// Unparseable tuning values fall back to their defaults.
func ConfigFromEnv() *Config {
	var e env
	return &Config{
		Backend: Backend(strings.ToLower(e.or("MODEL_PROVIDER", string(BackendOpenAI)))),
		OpenAI: ProviderOpenAI{
			APIKey:  e.get("OPENAI_API_KEY"),
			Model:   e.or("OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: e.get("OPENAI_BASE_URL"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     e.get("AZURE_OPENAI_API_KEY"),
			Endpoint:   e.get("AZURE_OPENAI_ENDPOINT"),
			Deployment: e.get("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: e.or("AZURE_OPENAI_API_VERSION", defaultAzureAPIVersion),
		},
		Ollama: ProviderOllama{
			Host:  e.or("OLLAMA_HOST", defaultOllamaHost),
			Model: e.or("OLLAMA_MODEL", defaultOllamaModel),
		},
		Gemini: ProviderGemini{
			APIKey: e.get("GOOGLE_API_KEY"),
			Model:  e.or("GEMINI_MODEL", defaultGeminiModel),
		},
		Ark: ProviderArk{
			APIKey:  e.get("ARK_API_KEY"),
			Model:   e.get("ARK_MODEL"),
			BaseURL: e.get("ARK_BASE_URL"),
		},
		Tuning: SharedTuning{
			MaxTokens:   e.integer("MODEL_MAX_TOKENS", defaultMaxTokens),
			Temperature: e.decimal("MODEL_TEMPERATURE", defaultTemperature),
		},
	}
}

// NewFromEnv builds the chat model described by ConfigFromEnv and returns the
// config alongside it for health checks.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	return m, cfg, err
}

// New validates cfg and builds the chat model for its backend.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build, ok := constructors[cfg.Backend]
	if !ok {
		return nil, errUnknownBackend(cfg.Backend)
	}
	return build(ctx, cfg)
}

// env reads trimmed environment variables.
type env struct{}

func (env) get(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func (e env) or(key, fallback string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	n, err := strconv.Atoi(e.get(key))
	if err != nil {
		return fallback
	}
	return n
}

func (e env) decimal(key string, fallback float32) float32 {
	f, err := strconv.ParseFloat(e.get(key), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
