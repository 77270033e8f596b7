// Package postgres provides a PostgreSQL/pgvector implementation of
// [memory.KnowledgeBase].
//
// Each collection is one table holding the passage text, its source and a
// fixed-dimension vector column with an HNSW cosine index. The pgvector
// extension must be available in the target database; [Migrate] installs it
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	kb, err := postgres.NewStore(ctx, dsn, postgres.WithDimensions(1024))
//	if err != nil { … }
//	defer kb.Close()
//
//	_ = kb.Reset(ctx)
//	_ = kb.IndexChunks(ctx, chunks)
//	hits, _ := kb.Search(ctx, queryVec, 3)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCollection returns the DDL for a collection table. The vector dimension
// is baked into the column type, so changing it requires a Reset.
func ddlCollection(table string, dimensions int) string {
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{"idx_" + table + "_embedding"}.Sanitize()
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    embedding   vector(%[3]d) NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[2]s
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, ident, index, dimensions)
}

// Migrate ensures the pgvector extension and the collection table exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, dimensions int) error {
	if _, err := pool.Exec(ctx, ddlCollection(table, dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// drop removes the collection table.
func drop(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("postgres drop: %w", err)
	}
	return nil
}
