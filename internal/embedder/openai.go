// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. OpenAI and Azure OpenAI go
// through the go-openai SDK, Gemini through the genai SDK, and Ollama through
// its plain HTTP /api/embed endpoint.
package embedder

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder embeds text through the OpenAI or Azure OpenAI embeddings
// API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// OpenAIConfig configures NewOpenAIEmbedder. With Azure set, BaseURL is the
// resource endpoint, Model is the deployment name and APIVersion applies.
// Dimensions of 0 keeps the model's native size.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Azure      bool
	APIVersion string
}

func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig(cfg)),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func clientConfig(cfg *OpenAIConfig) openai.ClientConfig {
	if !cfg.Azure {
		c := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		return c
	}
	c := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	if cfg.APIVersion != "" {
		c.APIVersion = cfg.APIVersion
	}
	// Deployment names are used as-is; the default mapper strips dots.
	c.AzureModelMapperFunc = func(model string) string { return model }
	return c
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: %d texts but %d embeddings", len(texts), len(resp.Data))
	}

	// Data may arrive out of order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai embedder: bad or repeated index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
