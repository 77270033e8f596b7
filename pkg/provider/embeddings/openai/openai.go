// Package openai embeds text with the OpenAI embeddings API or any server
// exposing a compatible /embeddings endpoint.
//
// text-embedding-3 models can shorten their output, which lets OpenAI fill
// the same 1024-dimension knowledge table as Jina:
//
//	p, err := openai.New(key, "", openai.WithDimensions(1024))
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
)

// DefaultModel is used when New is given no model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at a compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithBaseURL(url)) }
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.reqOpts = append(p.reqOpts, option.WithRequestTimeout(d))
		}
	}
}

// WithDimensions asks for shortened vectors. Only text-embedding-3 models
// support it.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims = n }
}

// Provider implements embeddings.Provider.
type Provider struct {
	client  oai.Client
	reqOpts []option.RequestOption
	model   string
	dims    int
}

// New returns a Provider. An empty model means DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model, reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	return vecs, nil
}

// embed returns one vector per text, in input order regardless of the order
// the server lists them in.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model}
	if len(texts) == 1 {
		params.Input.OfString = param.NewOpt(texts[0])
	} else {
		params.Input.OfArrayOfStrings = texts
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) || out[i] != nil {
			return nil, fmt.Errorf("bad embedding index %d", d.Index)
		}
		out[i] = make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	switch {
	case p.dims > 0:
		return p.dims
	case strings.Contains(strings.ToLower(p.model), "3-large"):
		return 3072
	default:
		return 1536
	}
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }
