// Package mock provides an in-memory test double for [memory.KnowledgeBase].
//
// KnowledgeBase keeps chunks in a slice and ranks them by cosine similarity,
// so tests can seed it and observe realistic ordering. Set SearchResult to
// bypass ranking entirely. Every method call is recorded for assertions.
//
//	kb := &mock.KnowledgeBase{}
//	kb.SearchResult = []types.SearchHit{{Text: "Milvus", Distance: 0.9}}
//	// inject kb into the system under test …
//	if got := kb.CallCount("Search"); got != 1 { … }
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/types"
)

var _ memory.KnowledgeBase = (*KnowledgeBase)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// KnowledgeBase is a configurable test double for [memory.KnowledgeBase].
type KnowledgeBase struct {
	mu    sync.Mutex
	calls []Call

	chunks []memory.Chunk

	// SearchResult, when non-nil, is returned by Search instead of ranking
	// the stored chunks.
	SearchResult []types.SearchHit

	// ResetErr, IndexErr, SearchErr and CountErr are returned by the
	// matching methods when non-nil.
	ResetErr  error
	IndexErr  error
	SearchErr error
	CountErr  error
}

func (m *KnowledgeBase) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Reset records the call and clears stored chunks.
func (m *KnowledgeBase) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Reset")
	if m.ResetErr != nil {
		return m.ResetErr
	}
	m.chunks = nil
	return nil
}

// IndexChunks records the call and upserts chunks by ID.
func (m *KnowledgeBase) IndexChunks(_ context.Context, chunks []memory.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("IndexChunks", chunks)
	if m.IndexErr != nil {
		return m.IndexErr
	}
	for _, c := range chunks {
		i := slices.IndexFunc(m.chunks, func(e memory.Chunk) bool { return c.ID != "" && e.ID == c.ID })
		if i >= 0 {
			m.chunks[i] = c
			continue
		}
		m.chunks = append(m.chunks, c)
	}
	return nil
}

// Search records the call and returns SearchResult, or the stored chunks
// ranked by cosine similarity to embedding.
func (m *KnowledgeBase) Search(_ context.Context, embedding []float32, limit int) ([]types.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", embedding, limit)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult != nil {
		return slices.Clone(m.SearchResult), nil
	}

	hits := make([]types.SearchHit, 0, len(m.chunks))
	for _, c := range m.chunks {
		hits = append(hits, types.SearchHit{
			ID:       c.ID,
			Text:     c.Text,
			Source:   c.Source,
			Distance: Cosine(embedding, c.Embedding),
		})
	}
	slices.SortStableFunc(hits, func(a, b types.SearchHit) int { return cmp.Compare(b.Distance, a.Distance) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count records the call and returns the number of stored chunks.
func (m *KnowledgeBase) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Count")
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return len(m.chunks), nil
}

// Chunks returns a copy of the stored chunks.
func (m *KnowledgeBase) Chunks() []memory.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.chunks)
}

// Calls returns a copy of all recorded calls.
func (m *KnowledgeBase) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times method was called.
func (m *KnowledgeBase) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
