// Package memory defines the knowledge base the assistant consults before any
// other source.
//
// A knowledge base is a single collection of text passages with pre-computed
// embeddings. The assistant resets and seeds it at startup and may extend it
// at runtime with passages learned from web searches. Retrieval is a nearest
// neighbour search over the embeddings; hits carry a similarity score where
// higher means closer.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/stephen37/voice-assistant/pkg/types"
)

// ErrDimensionMismatch is returned when a chunk or query embedding does not
// match the dimension the collection was created with.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// Chunk is a passage prepared for indexing. It carries its embedding so the
// store never calls an embedding service itself.
type Chunk struct {
	// ID uniquely identifies the chunk. Stores assign a UUID when empty.
	ID string

	// Text is the passage returned verbatim in search hits.
	Text string

	// Embedding is the passage vector. Its length must equal the collection
	// dimension.
	Embedding []float32

	// Source records where the passage came from ("seed", a URL, ...).
	Source string

	// CreatedAt is when the chunk was indexed. Stores fill it when zero.
	CreatedAt time.Time
}

// KnowledgeBase is a vector collection of passages.
type KnowledgeBase interface {
	// Reset drops the collection and recreates it empty.
	Reset(ctx context.Context) error

	// IndexChunks inserts chunks, replacing any with the same ID.
	IndexChunks(ctx context.Context, chunks []Chunk) error

	// Search returns up to limit hits ordered by descending similarity.
	// An empty collection yields an empty, non-nil slice.
	Search(ctx context.Context, embedding []float32, limit int) ([]types.SearchHit, error)

	// Count returns the number of passages in the collection.
	Count(ctx context.Context) (int, error)
}
