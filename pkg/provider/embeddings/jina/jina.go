// Package jina provides an embeddings provider backed by the Jina AI
// embeddings API (https://api.jina.ai/v1/embeddings).
//
// jina-embeddings-v3 carries task-specific LoRA adapters. Passages stored in
// the knowledge base are embedded with the "retrieval.passage" task and search
// queries with "retrieval.query"; Provider implements embeddings.QueryEmbedder
// to expose the second one.
//
//	p, err := jina.New(os.Getenv("JINA_API_KEY"))
//	vec, err := p.EmbedQuery(ctx, "what makes milvus fast?")
package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
)

const (
	// DefaultBaseURL is the Jina API root.
	DefaultBaseURL = "https://api.jina.ai/v1"

	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "jina-embeddings-v3"

	// DefaultDimensions is the Matryoshka dimension requested from v3.
	DefaultDimensions = 1024

	// TaskPassage embeds documents for storage.
	TaskPassage = "retrieval.passage"

	// TaskQuery embeds search queries.
	TaskQuery = "retrieval.query"

	// TaskTextMatching embeds both sides symmetrically.
	TaskTextMatching = "text-matching"
)

var (
	_ embeddings.Provider      = (*Provider)(nil)
	_ embeddings.QueryEmbedder = (*Provider)(nil)
)

// Provider implements embeddings.Provider for the Jina embeddings API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	dimensions  int
	passageTask string
	queryTask   string
	httpClient  *http.Client
}

type config struct {
	baseURL     string
	model       string
	dimensions  int
	passageTask string
	queryTask   string
	timeout     time.Duration
	httpClient  *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides DefaultBaseURL. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects a different Jina embedding model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDimensions requests a truncated embedding length.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// WithTasks overrides the passage and query task adapters. Empty values keep
// the defaults.
func WithTasks(passage, query string) Option {
	return func(c *config) {
		c.passageTask = passage
		c.queryTask = query
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("jina: apiKey must not be empty")
	}
	cfg := &config{
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		dimensions:  DefaultDimensions,
		passageTask: TaskPassage,
		queryTask:   TaskQuery,
		timeout:     30 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.passageTask == "" {
		cfg.passageTask = TaskPassage
	}
	if cfg.queryTask == "" {
		cfg.queryTask = TaskQuery
	}
	if cfg.dimensions <= 0 {
		return nil, fmt.Errorf("jina: dimensions must be positive, got %d", cfg.dimensions)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Provider{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(cfg.baseURL, "/"),
		model:       cfg.model,
		dimensions:  cfg.dimensions,
		passageTask: cfg.passageTask,
		queryTask:   cfg.queryTask,
		httpClient:  hc,
	}, nil
}

type embedRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task"`
	Dimensions    int      `json:"dimensions"`
	LateChunking  bool     `json:"late_chunking"`
	EmbeddingType string   `json:"embedding_type"`
	Input         []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Embed implements embeddings.Provider using the passage task.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, p.passageTask, []string{text})
	if err != nil {
		return nil, fmt.Errorf("jina: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider using the passage task.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.call(ctx, p.passageTask, texts)
	if err != nil {
		return nil, fmt.Errorf("jina: embed batch: %w", err)
	}
	return vecs, nil
}

// EmbedQuery implements embeddings.QueryEmbedder using the query task.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.call(ctx, p.queryTask, []string{text})
	if err != nil {
		return nil, fmt.Errorf("jina: embed query: %w", err)
	}
	return vecs[0], nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) call(ctx context.Context, task string, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:         p.model,
		Task:          task,
		Dimensions:    p.dimensions,
		LateChunking:  false,
		EmbeddingType: "float",
		Input:         texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, e.Detail)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })
	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		if len(d.Embedding) != p.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(d.Embedding), p.dimensions)
		}
		out[i] = d.Embedding
	}
	return out, nil
}
