package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
	"github.com/stephen37/voice-assistant/pkg/types"
)

// ChunkID derives a stable chunk ID from its text, so indexing the same
// passage twice overwrites the earlier copy.
func ChunkID(text string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(text)).String()
}

// IndexTexts embeds texts as passages and indexes them into kb. Blank and
// repeated texts are skipped. It returns the number of chunks indexed.
func IndexTexts(ctx context.Context, kb KnowledgeBase, emb embeddings.Provider, source string, texts ...string) (int, error) {
	clean := make([]string, 0, len(texts))
	seen := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if _, dup := seen[t]; t == "" || dup {
			continue
		}
		seen[t] = struct{}{}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return 0, nil
	}

	vecs, err := emb.EmbedBatch(ctx, clean)
	if err != nil {
		return 0, fmt.Errorf("memory: embed passages: %w", err)
	}
	if len(vecs) != len(clean) {
		return 0, fmt.Errorf("memory: embed passages: got %d vectors for %d texts", len(vecs), len(clean))
	}

	now := time.Now().UTC()
	chunks := make([]Chunk, len(clean))
	for i, t := range clean {
		chunks[i] = Chunk{
			ID:        ChunkID(t),
			Text:      t,
			Embedding: vecs[i],
			Source:    source,
			CreatedAt: now,
		}
	}
	if err := kb.IndexChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("memory: index passages: %w", err)
	}
	return len(chunks), nil
}

// SearchText embeds query with the query task variant when the provider
// supports it and searches kb.
func SearchText(ctx context.Context, kb KnowledgeBase, emb embeddings.Provider, query string, limit int) ([]types.SearchHit, error) {
	vec, err := embeddings.EmbedQuery(ctx, emb, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	hits, err := kb.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return hits, nil
}
