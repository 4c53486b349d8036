package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// ChunkRepo implements service.VectorSearcher, service.AdjacencyResolver and
// service.ChunkContentRepo over document_chunks. Adapted from the teacher's
// pgvector cosine-distance query and pgx.Batch bulk insert in chunk.go,
// retargeted from a per-user document_id scope to the universe-scoped,
// blacklist-aware scope of spec.md §4.5.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

var (
	_ service.VectorSearcher    = (*ChunkRepo)(nil)
	_ service.AdjacencyResolver = (*ChunkRepo)(nil)
	_ service.ChunkContentRepo  = (*ChunkRepo)(nil)
	_ service.QualityFlagRepo   = (*ChunkRepo)(nil)
)

const chunkColumns = `dc.id, dc.document_id, dc.chunk_index, dc.content, dc.token_count,
	dc.section_hierarchy, dc.heading_context, dc.document_position,
	dc.prev_chunk_id, dc.next_chunk_id, dc.parent_chunk_id, dc.chunk_level, dc.created_at`

const documentColumns = `d.id, d.title, d.source, d.universe_id, d.word_count, d.language, d.created_at, d.updated_at`

// SimilaritySearch implements service.VectorSearcher using pgvector cosine
// distance, excluding blacklisted chunks and scoping to a universe when one
// is given.
func (r *ChunkRepo) SimilaritySearch(ctx context.Context, queryVec []float32, topK int, universeID *string, excludeChunkIDs []string) ([]service.SearchCandidate, error) {
	embedding := pgvector.NewVector(queryVec)

	query := fmt.Sprintf(`
		SELECT %s, %s, 1 - (dc.embedding <=> $1::vector) AS similarity
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		LEFT JOIN chunk_blacklist cb ON cb.chunk_id = dc.id
		WHERE cb.chunk_id IS NULL
			AND ($2::uuid IS NULL OR d.universe_id = $2)
			AND NOT (dc.id = ANY(COALESCE($3, ARRAY[]::uuid[])))
		ORDER BY dc.embedding <=> $1::vector
		LIMIT $4`, chunkColumns, documentColumns)

	rows, err := r.pool.Query(ctx, query, embedding, universeID, excludeChunkIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("repository.SimilaritySearch: %w", err)
	}
	defer rows.Close()

	var results []service.SearchCandidate
	for rows.Next() {
		var cand service.SearchCandidate
		if err := scanChunkAndDocumentSim(rows, &cand); err != nil {
			return nil, fmt.Errorf("repository.SimilaritySearch: scan: %w", err)
		}
		results = append(results, cand)
	}
	slog.Info("vector similarity search", "results", len(results), "top_k", topK)
	return results, nil
}

func scanChunkAndDocumentSim(rows interface{ Scan(...any) error }, cand *service.SearchCandidate) error {
	var chunkLevel string
	err := rows.Scan(
		&cand.Chunk.ID, &cand.Chunk.DocumentID, &cand.Chunk.ChunkIndex, &cand.Chunk.Content, &cand.Chunk.TokenCount,
		&cand.Chunk.SectionHierarchy, &cand.Chunk.HeadingContext, &cand.Chunk.DocumentPosition,
		&cand.Chunk.PrevChunkID, &cand.Chunk.NextChunkID, &cand.Chunk.ParentChunkID, &chunkLevel, &cand.Chunk.CreatedAt,
		&cand.Document.ID, &cand.Document.Title, &cand.Document.Source, &cand.Document.UniverseID,
		&cand.Document.WordCount, &cand.Document.Language, &cand.Document.CreatedAt, &cand.Document.UpdatedAt,
		&cand.Similarity,
	)
	cand.Chunk.ChunkLevel = model.ChunkLevel(chunkLevel)
	return err
}

// ParentOf implements service.AdjacencyResolver's parent/child substitution.
func (r *ChunkRepo) ParentOf(ctx context.Context, childChunkID string) (*model.Chunk, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM document_chunks dc
		WHERE dc.id = (SELECT parent_chunk_id FROM document_chunks WHERE id = $1)`, chunkColumns)

	var c model.Chunk
	var chunkLevel string
	err := r.pool.QueryRow(ctx, query, childChunkID).Scan(
		&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount,
		&c.SectionHierarchy, &c.HeadingContext, &c.DocumentPosition,
		&c.PrevChunkID, &c.NextChunkID, &c.ParentChunkID, &chunkLevel, &c.CreatedAt,
	)
	if err != nil {
		return nil, nil
	}
	c.ChunkLevel = model.ChunkLevel(chunkLevel)
	return &c, nil
}

// AdjacentPreviews implements service.AdjacencyResolver's adjacency
// stitching: short previews of the chunk immediately before/after.
func (r *ChunkRepo) AdjacentPreviews(ctx context.Context, chunkID string) (*model.AdjacentPreview, *model.AdjacentPreview, error) {
	var prevID, nextID *string
	err := r.pool.QueryRow(ctx, `SELECT prev_chunk_id, next_chunk_id FROM document_chunks WHERE id = $1`, chunkID).Scan(&prevID, &nextID)
	if err != nil {
		return nil, nil, fmt.Errorf("repository.AdjacentPreviews: %w", err)
	}

	var prev, next *model.AdjacentPreview
	if prevID != nil {
		if p, err := r.previewOf(ctx, *prevID); err == nil {
			prev = p
		}
	}
	if nextID != nil {
		if n, err := r.previewOf(ctx, *nextID); err == nil {
			next = n
		}
	}
	return prev, next, nil
}

const adjacencyPreviewChars = 150

func (r *ChunkRepo) previewOf(ctx context.Context, chunkID string) (*model.AdjacentPreview, error) {
	var content string
	if err := r.pool.QueryRow(ctx, `SELECT content FROM document_chunks WHERE id = $1`, chunkID).Scan(&content); err != nil {
		return nil, err
	}
	if len(content) > adjacencyPreviewChars {
		content = content[:adjacencyPreviewChars]
	}
	return &model.AdjacentPreview{ChunkID: chunkID, Preview: content}, nil
}

// Content implements service.ChunkContentRepo, used by the quality
// scheduler's off-topic confirmation call.
func (r *ChunkRepo) Content(ctx context.Context, chunkID string) (string, error) {
	var content string
	err := r.pool.QueryRow(ctx, `SELECT content FROM document_chunks WHERE id = $1`, chunkID).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("repository.Content: %w", err)
	}
	return content, nil
}

// FlagNeedsReingestion implements service.QualityFlagRepo: resolves each
// chunk id to its owning document and upserts document_quality_scores,
// since model.Source (the only thing the thumbs-down analyser has in hand)
// carries no document id of its own.
func (r *ChunkRepo) FlagNeedsReingestion(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_quality_scores (document_id, needs_reingestion, notes, analysed_at)
		SELECT DISTINCT dc.document_id, true, 'flagged by thumbs-down analyser', now()
		FROM document_chunks dc
		WHERE dc.id = ANY($1::uuid[])
		ON CONFLICT (document_id) DO UPDATE SET needs_reingestion = true, analysed_at = now()`,
		chunkIDs,
	)
	if err != nil {
		return fmt.Errorf("repository.FlagNeedsReingestion: %w", err)
	}
	return nil
}
