package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// BM25Repository implements service.BM25Searcher using PostgreSQL's
// French-stemmed tsvector/tsquery full-text search over the GIN index on
// document_chunks.content_tsv. Adapted from the teacher's bm25.go, which
// searched with the English text-search configuration over a per-user
// document scope; retargeted to French stemming and universe/blacklist
// scoping per spec.md §4.5.
type BM25Repository struct {
	pool *pgxpool.Pool
}

// NewBM25Repository creates a BM25Repository.
func NewBM25Repository(pool *pgxpool.Pool) *BM25Repository {
	return &BM25Repository{pool: pool}
}

var _ service.BM25Searcher = (*BM25Repository)(nil)

// FullTextSearch implements service.BM25Searcher. tsquery is a caller-built
// tsquery expression (the lexical-AND join of spec.md §4.5's query
// preprocessing), not a raw user string.
func (r *BM25Repository) FullTextSearch(ctx context.Context, tsquery string, topK int, universeID *string, excludeChunkIDs []string) ([]service.SearchCandidate, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, ts_rank_cd(dc.content_tsv, to_tsquery('french', $1)) AS lex_score
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		LEFT JOIN chunk_blacklist cb ON cb.chunk_id = dc.id
		WHERE cb.chunk_id IS NULL
			AND dc.content_tsv @@ to_tsquery('french', $1)
			AND ($2::uuid IS NULL OR d.universe_id = $2)
			AND NOT (dc.id = ANY(COALESCE($3, ARRAY[]::uuid[])))
		ORDER BY lex_score DESC
		LIMIT $4`, chunkColumns, documentColumns)

	rows, err := r.pool.Query(ctx, query, tsquery, universeID, excludeChunkIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("repository.FullTextSearch: %w", err)
	}
	defer rows.Close()

	var results []service.SearchCandidate
	for rows.Next() {
		var cand service.SearchCandidate
		var chunkLevel string
		err := rows.Scan(
			&cand.Chunk.ID, &cand.Chunk.DocumentID, &cand.Chunk.ChunkIndex, &cand.Chunk.Content, &cand.Chunk.TokenCount,
			&cand.Chunk.SectionHierarchy, &cand.Chunk.HeadingContext, &cand.Chunk.DocumentPosition,
			&cand.Chunk.PrevChunkID, &cand.Chunk.NextChunkID, &cand.Chunk.ParentChunkID, &chunkLevel, &cand.Chunk.CreatedAt,
			&cand.Document.ID, &cand.Document.Title, &cand.Document.Source, &cand.Document.UniverseID,
			&cand.Document.WordCount, &cand.Document.Language, &cand.Document.CreatedAt, &cand.Document.UpdatedAt,
			&cand.LexScore,
		)
		if err != nil {
			return nil, fmt.Errorf("repository.FullTextSearch: scan: %w", err)
		}
		cand.Chunk.ChunkLevel = model.ChunkLevel(chunkLevel)
		results = append(results, cand)
	}

	slog.Info("lexical full-text search", "results", len(results), "top_k", topK)
	return results, nil
}
