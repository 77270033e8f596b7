// Package ollama embeds text with a local Ollama server's /api/embed endpoint,
// so the knowledge base can run fully offline next to a local answerer.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//
// Models trained with task prefixes get them added: nomic-embed-text stores
// passages as "search_document: ..." and searches with "search_query: ...".
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
)

// DefaultBaseURL is where a local Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

var (
	_ embeddings.Provider      = (*Provider)(nil)
	_ embeddings.QueryEmbedder = (*Provider)(nil)
)

// family describes a known embedding model.
type family struct {
	match          string
	dims           int
	passage, query string
}

var families = []family{
	{match: "nomic-embed-text", dims: 768, passage: "search_document: ", query: "search_query: "},
	{match: "mxbai-embed-large", dims: 1024},
	{match: "bge-m3", dims: 1024},
	{match: "all-minilm", dims: 384},
	{match: "jina-embeddings-v2", dims: 768},
}

func lookup(model string) family {
	model = strings.ToLower(model)
	for _, f := range families {
		if strings.Contains(model, f.match) {
			return f
		}
	}
	return family{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithDimensions sets the vector size and skips detection.
func WithDimensions(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.family.dims = n
		}
	}
}

// WithKeepAlive tells Ollama how long to keep the model loaded after a
// request, in its duration syntax ("5m", "-1" for forever).
func WithKeepAlive(d string) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// Provider implements embeddings.Provider. Unknown models have their
// dimension detected by one probe request on the first Dimensions call.
type Provider struct {
	baseURL   string
	model     string
	keepAlive string
	client    *http.Client
	family    family

	probe sync.Once
}

// New returns a Provider for model. An empty baseURL means DefaultBaseURL.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		family:  lookup(model),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, p.family.passage, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedQuery implements embeddings.QueryEmbedder.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, p.family.query, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed query: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with one request. An empty batch
// returns nil without contacting the server.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, p.family.passage, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. It returns 0 if detection
// failed.
func (p *Provider) Dimensions() int {
	if p.family.dims == 0 {
		p.probe.Do(func() {
			if vecs, err := p.embed(context.Background(), "", []string{"probe"}); err == nil {
				p.family.dims = len(vecs[0])
			}
		})
	}
	return p.family.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

// embed posts texts with prefix prepended and checks that one vector came
// back per input.
func (p *Provider) embed(ctx context.Context, prefix string, texts []string) ([][]float32, error) {
	in := texts
	if prefix != "" {
		in = make([]string, len(texts))
		for i, t := range texts {
			in[i] = prefix + t
		}
	}
	body, err := json.Marshal(embedRequest{Model: p.model, Input: in, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
