package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/memory/postgres"
)

const testDims = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICE_ASSISTANT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICE_ASSISTANT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICE_ASSISTANT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore opens a store on a per-test collection and resets it.
func newTestStore(t *testing.T, collection string) *postgres.Store {
	t.Helper()
	ctx := context.Background()
	s, err := postgres.NewStore(ctx, testDSN(t),
		postgres.WithCollection(collection),
		postgres.WithDimensions(testDims),
	)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return s
}

func TestNewStore_RejectsBadCollection(t *testing.T) {
	t.Parallel()
	_, err := postgres.NewStore(context.Background(), "postgres://unused", postgres.WithCollection("drop table; --"))
	if err == nil {
		t.Fatal("expected error for invalid collection name")
	}
}

func TestStore_IndexAndSearch(t *testing.T) {
	s := newTestStore(t, "test_kb_search")
	ctx := context.Background()

	chunks := []memory.Chunk{
		{ID: "a", Text: "Milvus is a vector database.", Embedding: []float32{1, 0, 0, 0}, Source: "seed"},
		{ID: "b", Text: "The Dartmouth Conference was in 1956.", Embedding: []float32{0, 1, 0, 0}, Source: "seed"},
		{ID: "c", Text: "Milvus supports HNSW.", Embedding: []float32{0.9, 0.1, 0, 0}, Source: "seed"},
	}
	if err := s.IndexChunks(ctx, chunks); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "a" || hits[1].ID != "c" {
		t.Errorf("unexpected order: %s, %s", hits[0].ID, hits[1].ID)
	}
	if hits[0].Distance < 0.99 {
		t.Errorf("identical vector similarity = %v, want ~1", hits[0].Distance)
	}
	if hits[0].Distance <= hits[1].Distance {
		t.Errorf("similarity should decrease: %v then %v", hits[0].Distance, hits[1].Distance)
	}
	if hits[0].Source != "seed" {
		t.Errorf("source = %q", hits[0].Source)
	}
}

func TestStore_UpsertAndReset(t *testing.T) {
	s := newTestStore(t, "test_kb_reset")
	ctx := context.Background()

	c := memory.Chunk{ID: "x", Text: "first", Embedding: []float32{0, 0, 1, 0}}
	if err := s.IndexChunks(ctx, []memory.Chunk{c}); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
	c.Text = "second"
	if err := s.IndexChunks(ctx, []memory.Chunk{c}); err != nil {
		t.Fatalf("IndexChunks upsert: %v", err)
	}
	hits, _ := s.Search(ctx, []float32{0, 0, 1, 0}, 5)
	if len(hits) != 1 || hits[0].Text != "second" {
		t.Fatalf("hits after upsert = %+v", hits)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	hits, err := s.Search(ctx, []float32{0, 0, 1, 0}, 5)
	if err != nil {
		t.Fatalf("Search after reset: %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("expected empty non-nil hits after reset, got %#v", hits)
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := newTestStore(t, "test_kb_dims")
	ctx := context.Background()

	err := s.IndexChunks(ctx, []memory.Chunk{{Text: "short", Embedding: []float32{1, 2}}})
	if !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Errorf("IndexChunks err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.Search(ctx, []float32{1}, 3); !errors.Is(err, memory.ErrDimensionMismatch) {
		t.Errorf("Search err = %v, want ErrDimensionMismatch", err)
	}
}
