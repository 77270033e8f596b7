package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/types"
)

const (
	// DefaultCollection is the table used when no collection is configured.
	DefaultCollection = "audio_assistant"

	// DefaultDimensions matches jina-embeddings-v3 at full size.
	DefaultDimensions = 1024
)

var _ memory.KnowledgeBase = (*Store)(nil)

var validCollection = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Option configures a Store.
type Option func(*Store)

// WithCollection sets the table name. It must be a lowercase SQL identifier.
func WithCollection(name string) Option {
	return func(s *Store) { s.table = name }
}

// WithDimensions sets the embedding dimension of the collection.
func WithDimensions(d int) Option {
	return func(s *Store) { s.dims = d }
}

// Store is a PostgreSQL-backed knowledge base. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
	dims  int
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate] for the configured collection.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{table: DefaultCollection, dims: DefaultDimensions}
	for _, o := range opts {
		o(s)
	}
	if !validCollection.MatchString(s.table) {
		return nil, fmt.Errorf("postgres store: invalid collection name %q", s.table)
	}
	if s.dims <= 0 {
		return nil, fmt.Errorf("postgres store: dimensions must be positive, got %d", s.dims)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, s.table, s.dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	s.pool = pool
	return s, nil
}

// Collection returns the table name backing this store.
func (s *Store) Collection() string { return s.table }

// Ping checks connectivity. It is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Reset implements [memory.KnowledgeBase]. It drops and recreates the
// collection table.
func (s *Store) Reset(ctx context.Context) error {
	if err := drop(ctx, s.pool, s.table); err != nil {
		return fmt.Errorf("postgres store: reset: %w", err)
	}
	if err := Migrate(ctx, s.pool, s.table, s.dims); err != nil {
		return fmt.Errorf("postgres store: reset: %w", err)
	}
	return nil
}

// IndexChunks implements [memory.KnowledgeBase]. All chunks are written in a
// single batch; a chunk with an existing ID replaces the stored row.
func (s *Store) IndexChunks(ctx context.Context, chunks []memory.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, source, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    source     = EXCLUDED.source,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`, pgx.Identifier{s.table}.Sanitize())

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		if len(c.Embedding) != s.dims {
			return fmt.Errorf("postgres store: index chunk %q: %w: got %d, want %d",
				c.ID, memory.ErrDimensionMismatch, len(c.Embedding), s.dims)
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = now
		}
		batch.Queue(q, id, c.Text, c.Source, pgvector.NewVector(c.Embedding), created)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: index chunks: %w", err)
	}
	return nil
}

// Search implements [memory.KnowledgeBase]. The reported Distance is the
// cosine similarity (1 - cosine distance), so higher means closer.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]types.SearchHit, error) {
	if len(embedding) != s.dims {
		return nil, fmt.Errorf("postgres store: search: %w: got %d, want %d",
			memory.ErrDimensionMismatch, len(embedding), s.dims)
	}
	if limit <= 0 {
		limit = 3
	}

	q := fmt.Sprintf(`
		SELECT id, content, source, 1 - (embedding <=> $1) AS similarity
		FROM   %s
		ORDER  BY embedding <=> $1
		LIMIT  $2`, pgx.Identifier{s.table}.Sanitize())

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.SearchHit, error) {
		var h types.SearchHit
		err := row.Scan(&h.ID, &h.Text, &h.Source, &h.Distance)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []types.SearchHit{}
	}
	return hits, nil
}

// Count implements [memory.KnowledgeBase].
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	q := "SELECT count(*) FROM " + pgx.Identifier{s.table}.Sanitize()
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}
