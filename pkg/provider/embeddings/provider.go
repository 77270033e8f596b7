// Package embeddings defines the Provider interface for text embedding backends.
//
// The knowledge base stores passage embeddings and searches them with query
// embeddings. Some models (Jina v3, nomic-embed-text) produce better retrieval
// when documents and queries are embedded with different task adapters; such
// providers implement QueryEmbedder in addition to Provider. Callers embed
// queries through EmbedQuery so they get the query adapter when one exists.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector returned by one Provider has length Dimensions(). Vectors from
// different models must never be compared with each other.
type Provider interface {
	// Embed computes the passage (document) embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in a single call. The i-th result belongs to
	// texts[i]. On error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length.
	Dimensions() int

	// ModelID returns the model identifier (e.g. "jina-embeddings-v3").
	ModelID() string
}

// QueryEmbedder is implemented by providers that embed search queries
// differently from stored passages.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery embeds text as a search query: through QueryEmbedder when p
// implements it, through Embed otherwise.
func EmbedQuery(ctx context.Context, p Provider, text string) ([]float32, error) {
	if q, ok := p.(QueryEmbedder); ok {
		return q.EmbedQuery(ctx, text)
	}
	return p.Embed(ctx, text)
}
