// Package mock provides a test double for embeddings.Provider.
//
// By default the mock derives a deterministic vector from the text (see
// Vectorize) so knowledge base tests can rely on identical texts producing
// identical vectors. Set EmbedFunc to control vectors per text.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when DimensionsValue is zero.
const DefaultDimensions = 8

// Provider is a mock implementation of embeddings.Provider and
// embeddings.QueryEmbedder.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, computes the vector for each text.
	EmbedFunc func(text string) []float32

	// Err, if non-nil, is returned by every embedding method.
	Err error

	// DimensionsValue is returned by Dimensions. Zero means DefaultDimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// PassageTexts records every text embedded through Embed or EmbedBatch.
	PassageTexts []string

	// QueryTexts records every text embedded through EmbedQuery.
	QueryTexts []string
}

var (
	_ embeddings.Provider      = (*Provider)(nil)
	_ embeddings.QueryEmbedder = (*Provider)(nil)
)

// Embed records text as a passage and returns its vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PassageTexts = append(p.PassageTexts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch records texts as passages and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PassageTexts = append(p.PassageTexts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// EmbedQuery records text as a query and returns its vector.
func (p *Provider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QueryTexts = append(p.QueryTexts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// Dimensions returns DimensionsValue or DefaultDimensions.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	return p.ModelIDValue
}

// Queries returns a copy of the recorded query texts.
func (p *Provider) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.QueryTexts...)
}

func (p *Provider) dims() int {
	if p.DimensionsValue > 0 {
		return p.DimensionsValue
	}
	return DefaultDimensions
}

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return Vectorize(text, p.dims())
}

// Vectorize hashes each lowercase word of text into one of dims buckets.
// Texts sharing words get a positive cosine similarity.
func Vectorize(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!'\"")))
		v[h.Sum32()%uint32(dims)]++
	}
	return v
}
