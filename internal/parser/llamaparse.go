package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultLlamaParseURL is the LlamaCloud API base URL.
	DefaultLlamaParseURL = "https://api.cloud.llamaindex.ai"
	// defaultPollInterval is how often job status is polled.
	defaultPollInterval = 2 * time.Second
)

// LlamaParseConfig holds connection settings for the LlamaParse service.
type LlamaParseConfig struct {
	// APIKey is the LlamaCloud API key. Required.
	APIKey string
	// BaseURL overrides DefaultLlamaParseURL.
	BaseURL string
	// Language is the document language hint (default "en").
	Language string
	// PollInterval is the delay between status checks.
	PollInterval time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// LlamaParse converts binary documents to markdown through the LlamaParse
// upload, poll, and fetch-result API.
type LlamaParse struct {
	cfg    LlamaParseConfig
	client *http.Client
}

// NewLlamaParse validates cfg and returns a client.
func NewLlamaParse(cfg LlamaParseConfig) (*LlamaParse, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llamaparse: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLlamaParseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &LlamaParse{cfg: cfg, client: client}, nil
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// Parse uploads the file, waits for the job to finish, and returns the
// markdown result as one document. The context bounds the whole exchange.
func (p *LlamaParse) Parse(ctx context.Context, path string) ([]Document, error) {
	jobID, err := p.upload(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := p.wait(ctx, jobID); err != nil {
		return nil, err
	}

	var res markdownResponse
	if err := p.getJSON(ctx, "/api/parsing/job/"+jobID+"/result/markdown", &res); err != nil {
		return nil, fmt.Errorf("llamaparse: fetch result: %w", err)
	}
	return []Document{{Name: filepath.Base(path), Text: res.Markdown}}, nil
}

func (p *LlamaParse) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("llamaparse: open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("llamaparse: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("llamaparse: read %s: %w", path, err)
	}
	if err := mw.WriteField("language", p.cfg.Language); err != nil {
		return "", fmt.Errorf("llamaparse: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("llamaparse: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/parsing/upload", &body)
	if err != nil {
		return "", fmt.Errorf("llamaparse: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job jobResponse
	if err := p.do(req, &job); err != nil {
		return "", fmt.Errorf("llamaparse: upload: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("llamaparse: upload returned no job id")
	}
	return job.ID, nil
}

func (p *LlamaParse) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var job jobResponse
		if err := p.getJSON(ctx, "/api/parsing/job/"+jobID, &job); err != nil {
			return fmt.Errorf("llamaparse: job status: %w", err)
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			return fmt.Errorf("llamaparse: job %s ended with status %s: %s", jobID, job.Status, job.Error)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("llamaparse: waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *LlamaParse) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *LlamaParse) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
