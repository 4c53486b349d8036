package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// IngestionJobRepo implements service.JobRepo and service.IngestionRepo.
// Adapted from the teacher's in-process "processing" guard map (forge.go)
// generalised to the cross-process `FOR UPDATE SKIP LOCKED` claim of
// spec.md §4.4: several ingest worker instances can poll the same table
// without double-processing a row.
type IngestionJobRepo struct {
	pool *pgxpool.Pool
}

// NewIngestionJobRepo creates an IngestionJobRepo.
func NewIngestionJobRepo(pool *pgxpool.Pool) *IngestionJobRepo {
	return &IngestionJobRepo{pool: pool}
}

var (
	_ service.JobRepo       = (*IngestionJobRepo)(nil)
	_ service.IngestionRepo = (*IngestionJobRepo)(nil)
)

// ClaimNext atomically claims and marks `processing` the oldest pending job,
// skipping rows already locked by another worker.
func (r *IngestionJobRepo) ClaimNext(ctx context.Context) (*model.IngestionJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.ClaimNext: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var job model.IngestionJob
	var status string
	err = tx.QueryRow(ctx, `
		SELECT id, filename, file_size_bytes, status, progress, document_id,
			chunks_created, error_message, created_at, started_at, completed_at
		FROM ingestion_jobs
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
	).Scan(
		&job.ID, &job.Filename, &job.FileSizeBytes, &status, &job.Progress, &job.DocumentID,
		&job.ChunksCreated, &job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.ClaimNext: select: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE ingestion_jobs SET status = 'processing', started_at = $1 WHERE id = $2`, now, job.ID); err != nil {
		return nil, fmt.Errorf("repository.ClaimNext: mark processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.ClaimNext: commit: %w", err)
	}

	job.Status = model.JobProcessing
	job.StartedAt = &now
	return &job, nil
}

// MarkCompleted finalises a successfully processed job.
func (r *IngestionJobRepo) MarkCompleted(ctx context.Context, jobID, documentID string, chunksCreated int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = 'completed', document_id = $1, chunks_created = $2, progress = 100, completed_at = $3
		WHERE id = $4`,
		documentID, chunksCreated, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("repository.MarkCompleted: %w", err)
	}
	return nil
}

// MarkFailed finalises a job that failed at any stage of processJob.
func (r *IngestionJobRepo) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ingestion_jobs SET status = 'failed', error_message = $1, completed_at = $2 WHERE id = $3`,
		errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("repository.MarkFailed: %w", err)
	}
	return nil
}

// InsertDocument commits one document, its chunks, and its images in a
// single transaction (§4.4 step 5): readers never observe a document with
// missing chunks, since the whole insert either commits or rolls back.
func (r *IngestionJobRepo) InsertDocument(ctx context.Context, doc *model.Document, chunks []model.Chunk, images []model.DocumentImage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.InsertDocument: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, title, source, full_text, universe_id, word_count, language, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, '{}'::jsonb), $9, $10)`,
		doc.ID, doc.Title, doc.Source, doc.FullText, doc.UniverseID, doc.WordCount, doc.Language, []byte(doc.Metadata), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.InsertDocument: insert document: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		embedding := pgvector.NewVector(c.Embedding)
		batch.Queue(`
			INSERT INTO document_chunks (
				id, document_id, chunk_index, content, embedding, token_count,
				section_hierarchy, heading_context, document_position,
				chunk_level, metadata, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::jsonb), $12)`,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, embedding, c.TokenCount,
			c.SectionHierarchy, c.HeadingContext, c.DocumentPosition,
			nullableChunkLevel(c.ChunkLevel), []byte(c.Metadata), c.CreatedAt,
		)
	}
	if err := execBatch(ctx, tx, batch, len(chunks), "insert chunks"); err != nil {
		return err
	}

	// Second pass: adjacency and parent links reference sibling rows that
	// must already exist, so they are set only after every chunk is inserted.
	linkBatch := &pgx.Batch{}
	for _, c := range chunks {
		linkBatch.Queue(`
			UPDATE document_chunks SET prev_chunk_id = $1, next_chunk_id = $2, parent_chunk_id = $3 WHERE id = $4`,
			c.PrevChunkID, c.NextChunkID, c.ParentChunkID, c.ID,
		)
	}
	if err := execBatch(ctx, tx, linkBatch, len(chunks), "link chunks"); err != nil {
		return err
	}

	imgBatch := &pgx.Batch{}
	for _, img := range images {
		imgBatch.Queue(`
			INSERT INTO document_images (id, document_id, chunk_id, page_number, position_box, ocr_text, description, confidence, storage_path, created_at)
			VALUES ($1, $2, $3, $4, jsonb_build_object('x', $5::float, 'y', $6::float, 'w', $7::float, 'h', $8::float), $9, $10, $11, $12, $13)`,
			img.ID, img.DocumentID, img.ChunkID, img.PageNumber,
			img.BoxX, img.BoxY, img.BoxWidth, img.BoxHeight,
			img.OCRText, img.Description, img.Confidence, img.StoragePath, now,
		)
	}
	if err := execBatch(ctx, tx, imgBatch, len(images), "insert images"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.InsertDocument: commit: %w", err)
	}
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int, label string) error {
	if n == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.InsertDocument: %s %d: %w", label, i, err)
		}
	}
	return nil
}

func nullableChunkLevel(level model.ChunkLevel) string {
	if level == model.ChunkLevelFlat {
		return "flat"
	}
	return string(level)
}
