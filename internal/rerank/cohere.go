package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docrag/internal/rag"
)

const (
	// DefaultCohereURL is the Cohere API base URL.
	DefaultCohereURL = "https://api.cohere.com"
	// DefaultCohereModel is the rerank model used when none is configured.
	DefaultCohereModel = "rerank-english-v3.0"
)

// CohereConfig holds Cohere Rerank settings.
type CohereConfig struct {
	// APIKey is the Cohere API key. Required.
	APIKey string
	// Model is the rerank model name (default: rerank-english-v3.0).
	Model string
	// BaseURL overrides DefaultCohereURL.
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Cohere calls POST /v2/rerank.
type Cohere struct {
	cfg    CohereConfig
	client *http.Client
}

// NewCohere returns a Cohere reranker.
func NewCohere(cfg CohereConfig) (*Cohere, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCohereModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCohereURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cohere{cfg: cfg, client: client}, nil
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores every node with the Cohere model and returns the topN best.
func (c *Cohere) Rerank(ctx context.Context, query string, nodes []rag.Node, topN int) ([]rag.Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(nodes) {
		topN = len(nodes)
	}

	docs := make([]string, len(nodes))
	for i, n := range nodes {
		docs[i] = n.Text
	}
	body, err := json.Marshal(cohereRequest{Model: c.cfg.Model, Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cohere: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cohere: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("cohere: decode response: %w", err)
	}

	ranked := make([]rag.Node, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(nodes) {
			return nil, fmt.Errorf("cohere: result index %d out of range", r.Index)
		}
		n := nodes[r.Index]
		n.Score = float32(r.RelevanceScore)
		ranked = append(ranked, n)
		if len(ranked) == topN {
			break
		}
	}
	return ranked, nil
}

// Name returns "cohere".
func (c *Cohere) Name() string { return "cohere" }
