package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/auricle-labs/timbre/pkg/ident"
)

// Compile-time interface checks.
var (
	_ ident.Store            = (*Store)(nil)
	_ ident.CandidateScanner = (*Store)(nil)
)

// Store is the PostgreSQL-backed [ident.Store]. It holds a single
// [pgxpool.Pool]; all methods are safe for concurrent use.
//
// Store also implements [ident.CandidateScanner], so a matcher configured
// with a scan limit pre-ranks candidates through the HNSW index instead of
// loading the whole embeddings table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, registers pgvector types on every connection, and runs [Migrate].
//
// dims must match the output dimension of the embedding extractor producing
// [ident.Embedding.Vector] values. Changing it after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
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

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Speakers
// ─────────────────────────────────────────────────────────────────────────────

// CreateSpeaker implements [ident.Store].
func (s *Store) CreateSpeaker(ctx context.Context, name string, metadata map[string]string) (*ident.Speaker, error) {
	const q = `
		INSERT INTO speakers (id, name, metadata)
		VALUES (gen_random_uuid()::text, $1, $2)
		RETURNING id, name, metadata, created_at, updated_at`

	if metadata == nil {
		metadata = map[string]string{}
	}
	sp, err := scanSpeaker(s.pool.QueryRow(ctx, q, name, metadata))
	if err != nil {
		return nil, fmt.Errorf("postgres store: create speaker: %w", err)
	}
	return sp, nil
}

// GetSpeaker implements [ident.Store].
func (s *Store) GetSpeaker(ctx context.Context, id string) (*ident.Speaker, error) {
	const q = `
		SELECT id, name, metadata, created_at, updated_at
		FROM   speakers
		WHERE  id = $1`

	sp, err := scanSpeaker(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindSpeaker, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get speaker: %w", err)
	}
	return sp, nil
}

// UpdateSpeaker implements [ident.Store]. An empty name keeps the current
// name; metadata keys are merged over the existing JSONB object.
func (s *Store) UpdateSpeaker(ctx context.Context, id, name string, metadata map[string]string) (*ident.Speaker, error) {
	const q = `
		UPDATE speakers
		SET    name       = CASE WHEN $2 = '' THEN name ELSE $2 END,
		       metadata   = metadata || $3,
		       updated_at = now()
		WHERE  id = $1
		RETURNING id, name, metadata, created_at, updated_at`

	if metadata == nil {
		metadata = map[string]string{}
	}
	sp, err := scanSpeaker(s.pool.QueryRow(ctx, q, id, name, metadata))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindSpeaker, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: update speaker: %w", err)
	}
	return sp, nil
}

// ListSpeakers implements [ident.Store].
func (s *Store) ListSpeakers(ctx context.Context, nameQuery string) ([]ident.Speaker, error) {
	const q = `
		SELECT id, name, metadata, created_at, updated_at
		FROM   speakers
		WHERE  $1 = '' OR name ILIKE '%' || $1 || '%'
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, nameQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list speakers: %w", err)
	}
	speakers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ident.Speaker, error) {
		sp, err := scanSpeaker(row)
		if err != nil {
			return ident.Speaker{}, err
		}
		return *sp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan speakers: %w", err)
	}
	if speakers == nil {
		speakers = []ident.Speaker{}
	}
	return speakers, nil
}

// DeleteSpeaker implements [ident.Store]. The schema cascades the delete to
// embeddings, their confidence history, and the speaker's events.
func (s *Store) DeleteSpeaker(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM speakers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete speaker: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Embeddings
// ─────────────────────────────────────────────────────────────────────────────

// AddEmbedding implements [ident.Store].
func (s *Store) AddEmbedding(ctx context.Context, speakerID string, vector []float32, confidence float64, prov ident.Provenance) (*ident.Embedding, error) {
	const q = `
		INSERT INTO embeddings
		    (id, speaker_id, embedding, confidence, source_file, segment_start, segment_end)
		SELECT gen_random_uuid()::text, $1, $2, $3, $4, $5, $6
		WHERE  EXISTS (SELECT 1 FROM speakers WHERE id = $1)
		RETURNING id, speaker_id, embedding, confidence,
		          source_file, segment_start, segment_end, created_at`

	if confidence == 0 {
		confidence = ident.InitialConfidence
	}
	confidence = ident.Clamp(confidence)

	emb, err := scanEmbedding(s.pool.QueryRow(ctx, q,
		speakerID,
		pgvector.NewVector(vector),
		confidence,
		prov.SourceFile,
		prov.SegmentStart,
		prov.SegmentEnd,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindSpeaker, ID: speakerID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: add embedding: %w", err)
	}
	return emb, nil
}

// GetEmbedding implements [ident.Store].
func (s *Store) GetEmbedding(ctx context.Context, id string) (*ident.Embedding, error) {
	const q = `
		SELECT id, speaker_id, embedding, confidence,
		       source_file, segment_start, segment_end, created_at
		FROM   embeddings
		WHERE  id = $1`

	emb, err := scanEmbedding(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindEmbedding, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get embedding: %w", err)
	}
	return emb, nil
}

// ListEmbeddings implements [ident.Store].
func (s *Store) ListEmbeddings(ctx context.Context, speakerID string) ([]ident.Embedding, error) {
	const q = `
		SELECT id, speaker_id, embedding, confidence,
		       source_file, segment_start, segment_end, created_at
		FROM   embeddings
		WHERE  speaker_id = $1
		ORDER  BY confidence DESC, id`

	rows, err := s.pool.Query(ctx, q, speakerID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list embeddings: %w", err)
	}
	return collectEmbeddings(rows)
}

// AllEmbeddings implements [ident.Store].
func (s *Store) AllEmbeddings(ctx context.Context) ([]ident.Embedding, error) {
	const q = `
		SELECT id, speaker_id, embedding, confidence,
		       source_file, segment_start, segment_end, created_at
		FROM   embeddings`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: all embeddings: %w", err)
	}
	return collectEmbeddings(rows)
}

// NearestEmbeddings implements [ident.CandidateScanner]. Candidates are
// pre-ranked by the HNSW cosine index; the matcher re-ranks them exactly in
// process.
func (s *Store) NearestEmbeddings(ctx context.Context, query []float32, k int) ([]ident.Embedding, error) {
	const q = `
		SELECT id, speaker_id, embedding, confidence,
		       source_file, segment_start, segment_end, created_at
		FROM   embeddings
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest embeddings: %w", err)
	}
	return collectEmbeddings(rows)
}

// DeleteEmbedding implements [ident.Store].
func (s *Store) DeleteEmbedding(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM embeddings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete embedding: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Confidence
// ─────────────────────────────────────────────────────────────────────────────

// UpdateConfidence implements [ident.Store]. The row is locked for the
// duration of the transaction, so concurrent adjustments to the same
// embedding serialise and the value mutation plus the audit row commit
// together.
func (s *Store) UpdateConfidence(ctx context.Context, embeddingID string, reason ident.AdjustReason, adjust func(old float64) float64) (_ *ident.ConfidenceChange, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: update confidence: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var old float64
	err = tx.QueryRow(ctx,
		`SELECT confidence FROM embeddings WHERE id = $1 FOR UPDATE`,
		embeddingID,
	).Scan(&old)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindEmbedding, ID: embeddingID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: update confidence: lock row: %w", err)
	}

	change := ident.ConfidenceChange{
		EmbeddingID: embeddingID,
		Old:         old,
		New:         ident.Clamp(adjust(old)),
		Reason:      reason,
	}

	if _, err := tx.Exec(ctx,
		`UPDATE embeddings SET confidence = $2 WHERE id = $1`,
		embeddingID, change.New,
	); err != nil {
		return nil, fmt.Errorf("postgres store: update confidence: write value: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO confidence_history (embedding_id, old_confidence, new_confidence, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		embeddingID, change.Old, change.New, string(change.Reason),
	).Scan(&change.At)
	if err != nil {
		return nil, fmt.Errorf("postgres store: update confidence: write history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres store: update confidence: commit: %w", err)
	}
	return &change, nil
}

// History implements [ident.Store].
func (s *Store) History(ctx context.Context, embeddingID string) ([]ident.ConfidenceChange, error) {
	const q = `
		SELECT embedding_id, old_confidence, new_confidence, reason, created_at
		FROM   confidence_history
		WHERE  embedding_id = $1
		ORDER  BY id DESC`

	rows, err := s.pool.Query(ctx, q, embeddingID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: history: %w", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ident.ConfidenceChange, error) {
		var (
			c      ident.ConfidenceChange
			reason string
		)
		if err := row.Scan(&c.EmbeddingID, &c.Old, &c.New, &reason, &c.At); err != nil {
			return ident.ConfidenceChange{}, err
		}
		c.Reason = ident.AdjustReason(reason)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan history: %w", err)
	}
	if changes == nil {
		changes = []ident.ConfidenceChange{}
	}
	return changes, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Events
// ─────────────────────────────────────────────────────────────────────────────

// RecordEvent implements [ident.Store].
func (s *Store) RecordEvent(ctx context.Context, ev *ident.IdentificationEvent) error {
	const q = `
		INSERT INTO identification_events
		    (id, speaker_id, embedding_id, job_id, segment_id,
		     query_vector, score, tier, kind, verified, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)`

	var queryVec *pgvector.Vector
	if len(ev.QueryVector) > 0 {
		v := pgvector.NewVector(ev.QueryVector)
		queryVec = &v
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q,
		ev.ID,
		ev.SpeakerID,
		ev.EmbeddingID,
		ev.Context.JobID,
		ev.Context.SegmentID,
		queryVec,
		ev.Score,
		string(ev.Tier),
		string(ev.Kind),
		ev.Verified,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: record event: %w", err)
	}
	return nil
}

// GetEvent implements [ident.Store].
func (s *Store) GetEvent(ctx context.Context, id string) (*ident.IdentificationEvent, error) {
	const q = `
		SELECT id, COALESCE(speaker_id, ''), COALESCE(embedding_id, ''),
		       job_id, segment_id, query_vector, score, tier, kind, verified, created_at
		FROM   identification_events
		WHERE  id = $1`

	var (
		ev         ident.IdentificationEvent
		queryVec   *pgvector.Vector
		tier, kind string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&ev.ID,
		&ev.SpeakerID,
		&ev.EmbeddingID,
		&ev.Context.JobID,
		&ev.Context.SegmentID,
		&queryVec,
		&ev.Score,
		&tier,
		&kind,
		&ev.Verified,
		&ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindEvent, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get event: %w", err)
	}
	ev.Tier = ident.Tier(tier)
	ev.Kind = ident.EventKind(kind)
	if queryVec != nil {
		ev.QueryVector = queryVec.Slice()
	}
	return &ev, nil
}

// MarkEventVerified implements [ident.Store].
func (s *Store) MarkEventVerified(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: mark verified: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var verified bool
	err = tx.QueryRow(ctx,
		`SELECT verified FROM identification_events WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ident.NotFoundError{Kind: ident.KindEvent, ID: id}
	}
	if err != nil {
		return fmt.Errorf("postgres store: mark verified: lock row: %w", err)
	}
	if verified {
		return ident.ErrAlreadyVerified
	}

	if _, err := tx.Exec(ctx,
		`UPDATE identification_events SET verified = true WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("postgres store: mark verified: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: mark verified: commit: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Decay and statistics
// ─────────────────────────────────────────────────────────────────────────────

// DecayCandidates implements [ident.Store]. The last reference of an
// embedding is the later of its creation time and its newest event; the
// applied decay is the confidence already removed by decay rows recorded
// after that reference.
func (s *Store) DecayCandidates(ctx context.Context, before time.Time) ([]ident.DecayCandidate, error) {
	const q = `
		SELECT e.id, e.speaker_id, e.embedding, e.confidence,
		       e.source_file, e.segment_start, e.segment_end, e.created_at,
		       ref.last_reference,
		       COALESCE((
		           SELECT SUM(h.old_confidence - h.new_confidence)
		           FROM   confidence_history h
		           WHERE  h.embedding_id = e.id
		             AND  h.reason = 'decay'
		             AND  h.created_at > ref.last_reference
		       ), 0) AS decay_applied
		FROM   embeddings e
		CROSS  JOIN LATERAL (
		    SELECT GREATEST(e.created_at, COALESCE((
		        SELECT MAX(ev.created_at)
		        FROM   identification_events ev
		        WHERE  ev.embedding_id = e.id
		    ), e.created_at)) AS last_reference
		) ref
		WHERE  ref.last_reference < $1
		ORDER  BY e.id`

	rows, err := s.pool.Query(ctx, q, before)
	if err != nil {
		return nil, fmt.Errorf("postgres store: decay candidates: %w", err)
	}
	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ident.DecayCandidate, error) {
		var (
			dc  ident.DecayCandidate
			vec pgvector.Vector
		)
		if err := row.Scan(
			&dc.Embedding.ID,
			&dc.Embedding.SpeakerID,
			&vec,
			&dc.Embedding.Confidence,
			&dc.Embedding.Provenance.SourceFile,
			&dc.Embedding.Provenance.SegmentStart,
			&dc.Embedding.Provenance.SegmentEnd,
			&dc.Embedding.CreatedAt,
			&dc.LastReference,
			&dc.DecayApplied,
		); err != nil {
			return ident.DecayCandidate{}, err
		}
		dc.Embedding.Vector = vec.Slice()
		return dc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan decay candidates: %w", err)
	}
	if candidates == nil {
		candidates = []ident.DecayCandidate{}
	}
	return candidates, nil
}

// SpeakerStats implements [ident.Store].
func (s *Store) SpeakerStats(ctx context.Context, speakerID string) (*ident.SpeakerStats, error) {
	const q = `
		SELECT COUNT(e.id),
		       COALESCE(AVG(e.confidence), 0),
		       COALESCE(MAX(e.confidence), 0),
		       COALESCE(MIN(e.confidence), 0),
		       (SELECT COALESCE(MAX(ev.created_at), 'epoch'::timestamptz)
		        FROM   identification_events ev
		        WHERE  ev.speaker_id = s.id)
		FROM   speakers s
		LEFT   JOIN embeddings e ON e.speaker_id = s.id
		WHERE  s.id = $1
		GROUP  BY s.id`

	stats := &ident.SpeakerStats{SpeakerID: speakerID}
	var lastMatched time.Time
	err := s.pool.QueryRow(ctx, q, speakerID).Scan(
		&stats.EmbeddingCount,
		&stats.AvgConfidence,
		&stats.MaxConfidence,
		&stats.MinConfidence,
		&lastMatched,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ident.NotFoundError{Kind: ident.KindSpeaker, ID: speakerID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: speaker stats: %w", err)
	}
	if lastMatched.Unix() > 0 {
		stats.LastMatchedAt = lastMatched
	}
	return stats, nil
}

// Totals implements [ident.Store].
func (s *Store) Totals(ctx context.Context) (*ident.Overview, error) {
	const q = `
		SELECT (SELECT COUNT(*) FROM speakers),
		       (SELECT COUNT(*) FROM embeddings),
		       (SELECT COUNT(*) FROM identification_events),
		       (SELECT COALESCE(AVG(confidence), 0) FROM embeddings)`

	o := &ident.Overview{}
	if err := s.pool.QueryRow(ctx, q).Scan(
		&o.SpeakerCount, &o.EmbeddingCount, &o.EventCount, &o.MeanConfidence,
	); err != nil {
		return nil, fmt.Errorf("postgres store: totals: %w", err)
	}
	return o, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Row scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanSpeaker(row pgx.Row) (*ident.Speaker, error) {
	sp := &ident.Speaker{}
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Metadata, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return nil, err
	}
	if sp.Metadata == nil {
		sp.Metadata = map[string]string{}
	}
	return sp, nil
}

func scanEmbedding(row pgx.Row) (*ident.Embedding, error) {
	emb := &ident.Embedding{}
	var vec pgvector.Vector
	if err := row.Scan(
		&emb.ID,
		&emb.SpeakerID,
		&vec,
		&emb.Confidence,
		&emb.Provenance.SourceFile,
		&emb.Provenance.SegmentStart,
		&emb.Provenance.SegmentEnd,
		&emb.CreatedAt,
	); err != nil {
		return nil, err
	}
	emb.Vector = vec.Slice()
	return emb, nil
}

func collectEmbeddings(rows pgx.Rows) ([]ident.Embedding, error) {
	embeddings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ident.Embedding, error) {
		emb, err := scanEmbedding(row)
		if err != nil {
			return ident.Embedding{}, err
		}
		return *emb, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan embeddings: %w", err)
	}
	if embeddings == nil {
		embeddings = []ident.Embedding{}
	}
	return embeddings, nil
}
