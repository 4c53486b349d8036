package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// DocumentRepository implements service.DocumentQueryRepo and
// service.IngestJobEnqueuer. Adapted from the teacher's document.go, which
// owned the full upload/index-status/folder lifecycle; here document rows
// are only ever created by the ingest worker's single transaction
// (repository/ingestion.go), so this file is read-focused plus job enqueue.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

var (
	_ service.DocumentQueryRepo = (*DocumentRepository)(nil)
	_ service.IngestJobEnqueuer = (*DocumentRepository)(nil)
)

// GetByID implements service.DocumentQueryRepo.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, source, full_text, universe_id, word_count, language, metadata, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &d.FullText, &d.UniverseID, &d.WordCount, &d.Language, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	return &d, nil
}

// ListByUniverse implements service.DocumentQueryRepo. universeID nil lists
// across every universe.
func (r *DocumentRepository) ListByUniverse(ctx context.Context, universeID *string, limit, offset int) ([]model.Document, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM documents WHERE ($1::uuid IS NULL OR universe_id = $1)`, universeID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByUniverse: count: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, title, source, full_text, universe_id, word_count, language, metadata, created_at, updated_at
		FROM documents WHERE ($1::uuid IS NULL OR universe_id = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, universeID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByUniverse: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.FullText, &d.UniverseID, &d.WordCount, &d.Language, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("repository.ListByUniverse: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, total, nil
}

// Enqueue implements service.IngestJobEnqueuer: creates the pending
// ingestion_jobs row the ingest worker's ClaimNext will later pick up.
func (r *DocumentRepository) Enqueue(ctx context.Context, filename string, fileSizeBytes int64) (*model.IngestionJob, error) {
	job := &model.IngestionJob{
		ID:            uuid.NewString(),
		Filename:      filename,
		FileSizeBytes: fileSizeBytes,
		Status:        model.JobPending,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingestion_jobs (id, filename, file_size_bytes, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Filename, job.FileSizeBytes, string(job.Status), job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.Enqueue: %w", err)
	}
	return job, nil
}
