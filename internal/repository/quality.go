package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// QualityRepository implements service.CitationStatsRepo,
// service.ChunkBlacklistRepo, service.ReingestionRepo,
// service.QualityAuditRepo, and orchestrator.go's retrieval-scoped
// BlacklistRepo. Grounded in the teacher's audit.go append-only logging
// idiom, retargeted from a generic resource-audit table to the
// quality-maintenance vocabulary of spec.md §4.10.
type QualityRepository struct {
	pool *pgxpool.Pool
}

// NewQualityRepository creates a QualityRepository.
func NewQualityRepository(pool *pgxpool.Pool) *QualityRepository {
	return &QualityRepository{pool: pool}
}

var (
	_ service.CitationStatsRepo = (*QualityRepository)(nil)
	_ service.ChunkBlacklistRepo = (*QualityRepository)(nil)
	_ service.ReingestionRepo  = (*QualityRepository)(nil)
	_ service.QualityAuditRepo = (*QualityRepository)(nil)
	_ service.BlacklistRepo    = (*QualityRepository)(nil)
)

// ScoreChunks implements §4.10 step 1: satisfaction = (pos - neg) / total,
// recomputed from every citation rating on record and persisted to
// chunk_quality_scores. A chunk's Sources entries carry only its ChunkID,
// so citations are reconstructed by unnesting each assistant message's
// sources JSON and joining against ratings on that message.
func (r *QualityRepository) ScoreChunks(ctx context.Context) ([]model.ChunkQualityScore, error) {
	rows, err := r.pool.Query(ctx, `
		WITH citations AS (
			SELECT m.id AS message_id, (src->>'chunkId')::uuid AS chunk_id
			FROM messages m, jsonb_array_elements(m.sources) AS src
			WHERE m.role = 'assistant' AND m.sources IS NOT NULL
		),
		scored AS (
			SELECT
				c.chunk_id,
				COUNT(*) FILTER (WHERE r.rating = 1) AS positive,
				COUNT(*) FILTER (WHERE r.rating = -1) AS negative,
				COUNT(*) AS total
			FROM citations c
			JOIN message_ratings r ON r.message_id = c.message_id
			GROUP BY c.chunk_id
		)
		INSERT INTO chunk_quality_scores (chunk_id, score, updated_at)
		SELECT chunk_id, (positive - negative)::float8 / NULLIF(total, 0), now() FROM scored
		ON CONFLICT (chunk_id) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		RETURNING chunk_id, score,
			(SELECT positive FROM scored s WHERE s.chunk_id = chunk_quality_scores.chunk_id),
			(SELECT negative FROM scored s WHERE s.chunk_id = chunk_quality_scores.chunk_id)`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ScoreChunks: %w", err)
	}
	defer rows.Close()

	var out []model.ChunkQualityScore
	for rows.Next() {
		var sc model.ChunkQualityScore
		if err := rows.Scan(&sc.ChunkID, &sc.SatisfactionScore, &sc.PositiveCount, &sc.NegativeCount); err != nil {
			return nil, fmt.Errorf("repository.ScoreChunks: scan: %w", err)
		}
		sc.LastScoredAt = time.Now().UTC()
		out = append(out, sc)
	}
	return out, nil
}

// IsBlacklisted implements service.ChunkBlacklistRepo.
func (r *QualityRepository) IsBlacklisted(ctx context.Context, chunkID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunk_blacklist WHERE chunk_id = $1)`, chunkID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository.IsBlacklisted: %w", err)
	}
	return exists, nil
}

// Blacklist implements service.ChunkBlacklistRepo, excluding a chunk from
// future retrieval only (past Sources on persisted messages are untouched).
func (r *QualityRepository) Blacklist(ctx context.Context, entry model.ChunkBlacklist) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chunk_blacklist (id, chunk_id, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chunk_id) DO UPDATE SET reason = $3, source = $4`,
		uuid.NewString(), entry.ChunkID, entry.Reason, string(entry.Source), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Blacklist: %w", err)
	}
	return nil
}

// Unblacklist restores a chunk to retrieval eligibility (admin override path).
func (r *QualityRepository) Unblacklist(ctx context.Context, chunkID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chunk_blacklist WHERE chunk_id = $1`, chunkID)
	if err != nil {
		return fmt.Errorf("repository.Unblacklist: %w", err)
	}
	return nil
}

// BlacklistedChunkIDs implements orchestrator.go's retrieval-scoped
// BlacklistRepo: every currently blacklisted chunk id, optionally narrowed
// to one universe. universeID is accepted for interface symmetry with
// universe-scoped retrieval even though chunk_blacklist itself carries no
// universe column — the join resolves it via document_chunks/documents.
func (r *QualityRepository) BlacklistedChunkIDs(ctx context.Context, universeID *string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT cb.chunk_id FROM chunk_blacklist cb
		JOIN document_chunks dc ON dc.id = cb.chunk_id
		JOIN documents d ON d.id = dc.document_id
		WHERE $1::uuid IS NULL OR d.universe_id = $1`, universeID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.BlacklistedChunkIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository.BlacklistedChunkIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DocumentsExceedingMissingSourcesThreshold implements §4.10 step 3:
// documents whose chunks were cited in at least minValidations distinct
// missing_sources classifications.
func (r *QualityRepository) DocumentsExceedingMissingSourcesThreshold(ctx context.Context, minValidations int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		WITH flagged AS (
			SELECT v.id AS validation_id, (src->>'chunkId')::uuid AS chunk_id
			FROM thumbs_down_validations v
			JOIN message_ratings r ON r.id = v.rating_id
			JOIN messages m ON m.id = r.message_id
			CROSS JOIN LATERAL jsonb_array_elements(m.sources) AS src
			WHERE v.classification = 'missing_sources'
		)
		SELECT dc.document_id
		FROM flagged f
		JOIN document_chunks dc ON dc.id = f.chunk_id
		GROUP BY dc.document_id
		HAVING COUNT(DISTINCT f.validation_id) >= $1`, minValidations,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.DocumentsExceedingMissingSourcesThreshold: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository.DocumentsExceedingMissingSourcesThreshold: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarkNeedsReingestion flags one document for re-ingestion.
func (r *QualityRepository) MarkNeedsReingestion(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_quality_scores (document_id, needs_reingestion, notes, analysed_at)
		VALUES ($1, true, 'flagged by quality scheduler', now())
		ON CONFLICT (document_id) DO UPDATE SET needs_reingestion = true, analysed_at = now()`,
		documentID,
	)
	if err != nil {
		return fmt.Errorf("repository.MarkNeedsReingestion: %w", err)
	}
	return nil
}

// Append implements service.QualityAuditRepo: immutable, insert-only.
func (r *QualityRepository) Append(ctx context.Context, entry model.QualityAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quality_audit_log (id, actor, action, target_type, target_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Actor, entry.Action, entry.TargetType, entry.TargetID, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Append: %w", err)
	}
	return nil
}

// History returns the audit trail for one target, newest first — the admin
// review surface for overriding an automated decision.
func (r *QualityRepository) History(ctx context.Context, targetType, targetID string) ([]model.QualityAuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor, action, target_type, target_id, reason, created_at
		FROM quality_audit_log WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC`, targetType, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.History: %w", err)
	}
	defer rows.Close()

	var out []model.QualityAuditEntry
	for rows.Next() {
		var e model.QualityAuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetType, &e.TargetID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.History: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
