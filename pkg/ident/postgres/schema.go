// Package postgres provides the PostgreSQL-backed [ident.Store].
//
// Speakers and embeddings live in two related tables; identification events
// and confidence history are append-only audit tables. Embedding vectors
// use the pgvector extension with an HNSW cosine index so that very large
// stores can pre-rank match candidates without a full table scan.
// [Migrate] installs the extension and schema idempotently.
//
// Cascade integrity — "no orphan embeddings" — is enforced by the schema
// itself (ON DELETE CASCADE), not by call sites.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 512)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSpeakers = `
CREATE TABLE IF NOT EXISTS speakers (
    id          TEXT         PRIMARY KEY,
    name        TEXT         NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speakers_name ON speakers (lower(name));
`

// ddlEmbeddings returns the embeddings DDL with the vector dimension
// substituted. The dimension is baked into the column type at schema
// creation time; changing it later requires a manual schema change.
func ddlEmbeddings(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embeddings (
    id            TEXT         PRIMARY KEY,
    speaker_id    TEXT         NOT NULL REFERENCES speakers (id) ON DELETE CASCADE,
    embedding     vector(%d)   NOT NULL,
    confidence    DOUBLE PRECISION NOT NULL,
    source_file   TEXT         NOT NULL DEFAULT '',
    segment_start DOUBLE PRECISION NOT NULL DEFAULT 0,
    segment_end   DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_embeddings_speaker
    ON embeddings (speaker_id);

CREATE INDEX IF NOT EXISTS idx_embeddings_vector
    ON embeddings USING hnsw (embedding vector_cosine_ops);
`, dims)
}

const ddlAudit = `
CREATE TABLE IF NOT EXISTS identification_events (
    id            TEXT         PRIMARY KEY,
    speaker_id    TEXT         REFERENCES speakers (id) ON DELETE CASCADE,
    embedding_id  TEXT         REFERENCES embeddings (id) ON DELETE SET NULL,
    job_id        TEXT         NOT NULL DEFAULT '',
    segment_id    TEXT         NOT NULL DEFAULT '',
    query_vector  vector,
    score         DOUBLE PRECISION NOT NULL DEFAULT 0,
    tier          TEXT         NOT NULL,
    kind          TEXT         NOT NULL,
    verified      BOOLEAN      NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_speaker
    ON identification_events (speaker_id);

CREATE INDEX IF NOT EXISTS idx_events_embedding
    ON identification_events (embedding_id);

CREATE TABLE IF NOT EXISTS confidence_history (
    id              BIGSERIAL    PRIMARY KEY,
    embedding_id    TEXT         NOT NULL REFERENCES embeddings (id) ON DELETE CASCADE,
    old_confidence  DOUBLE PRECISION NOT NULL,
    new_confidence  DOUBLE PRECISION NOT NULL,
    reason          TEXT         NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_embedding
    ON confidence_history (embedding_id, id DESC);
`

// Migrate creates or ensures all required tables, indexes and the pgvector
// extension. It is idempotent and safe to call on every application start.
//
// dims must match the output dimension of the embedding extractor in use
// (512 for the reference extractor).
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	for _, stmt := range []string{
		ddlSpeakers,
		ddlEmbeddings(dims),
		ddlAudit,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
