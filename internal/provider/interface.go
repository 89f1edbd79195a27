// Package provider selects and constructs the chat model that synthesizes
// answers from retrieved context. Supported backends: OpenAI, Azure OpenAI,
// Ollama, Google Gemini, and Volcengine Ark.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
)

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is read from OPENAI_API_KEY.
	APIKey string
	// Model is read from OPENAI_MODEL (default: gpt-4o-mini).
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible gateways.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// APIKey is read from AZURE_OPENAI_API_KEY.
	APIKey string
	// Endpoint is the resource URL, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is the chat deployment name.
	Deployment string
	// APIVersion is the REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama server URL.
	Host string
	// Model is the local model tag.
	Model string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is read from GOOGLE_API_KEY.
	APIKey string
	// Model is read from GEMINI_MODEL.
	Model string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	// APIKey is read from ARK_API_KEY.
	APIKey string
	// Model is the Ark endpoint/model ID.
	Model string
	// BaseURL overrides the regional endpoint.
	BaseURL string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is read.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ollama      ProviderOllama
	Gemini      ProviderGemini
	Ark         ProviderArk

	// Tuning applies to every backend.
	Tuning SharedTuning
}

// setting pairs a required value with the environment variable that supplies it.
type setting struct {
	env   string
	value string
}

// required lists the settings the selected backend cannot start without, in
// reporting order.
func (c *Config) required() ([]setting, bool) {
	switch c.Backend {
	case BackendOpenAI:
		return []setting{{"OPENAI_API_KEY", c.OpenAI.APIKey}, {"OPENAI_MODEL", c.OpenAI.Model}}, true
	case BackendAzure:
		return []setting{
			{"AZURE_OPENAI_API_KEY", c.AzureOpenAI.APIKey},
			{"AZURE_OPENAI_ENDPOINT", c.AzureOpenAI.Endpoint},
			{"AZURE_OPENAI_DEPLOYMENT", c.AzureOpenAI.Deployment},
		}, true
	case BackendOllama:
		return []setting{{"OLLAMA_MODEL", c.Ollama.Model}}, true
	case BackendGemini:
		return []setting{{"GOOGLE_API_KEY", c.Gemini.APIKey}, {"GEMINI_MODEL", c.Gemini.Model}}, true
	case BackendArk:
		return []setting{{"ARK_API_KEY", c.Ark.APIKey}, {"ARK_MODEL", c.Ark.Model}}, true
	}
	return nil, false
}

// Validate reports the first missing setting for the selected backend.
func (c *Config) Validate() error {
	settings, ok := c.required()
	if !ok {
		return errUnknownBackend(c.Backend)
	}
	for _, s := range settings {
		if strings.TrimSpace(s.value) == "" {
			return fmt.Errorf("provider: %s is required for %s backend", s.env, c.Backend)
		}
	}
	return nil
}

func errUnknownBackend(b Backend) error {
	return fmt.Errorf("provider: unknown backend %q (valid values: openai, azure, ollama, gemini, ark)", b)
}

// ModelName returns the model or deployment in use, for logs and readiness output.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendOllama:
		return c.Ollama.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}

// isAzureReasoningModel reports whether an Azure deployment name refers to an
// o-series or codex reasoning model. These reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	if strings.HasPrefix(d, "codex") {
		return true
	}
	if len(d) >= 2 && d[0] == 'o' && d[1] >= '0' && d[1] <= '9' {
		return true
	}
	return false
}
