package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// StorageClient abstracts the shared object storage an uploaded file lands
// in before the ingest worker reads it. Generalises the teacher's
// GCS-signed-URL StorageClient: upload still goes straight from the client
// to storage, but the document row itself is never created at upload time
// — only an ingestion_jobs row is, per §4.4's job-claim model.
type StorageClient interface {
	SignedURL(bucket, object string, opts *SignedURLOptions) (string, error)
}

// SignedURLOptions mirrors the options needed for generating signed URLs.
type SignedURLOptions struct {
	Method      string
	Expires     time.Time
	ContentType string
}

// DocumentQueryRepo serves the read-only document surface consumed by §6's
// UI (listing, per-document detail, re-ingestion status).
type DocumentQueryRepo interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	ListByUniverse(ctx context.Context, universeID *string, limit, offset int) ([]model.Document, int, error)
}

// IngestJobEnqueuer creates a pending ingestion_jobs row once a file has
// landed in shared storage, the entry point the ingest worker's ClaimNext
// eventually picks up.
type IngestJobEnqueuer interface {
	Enqueue(ctx context.Context, filename string, fileSizeBytes int64) (*model.IngestionJob, error)
}

// UploadResponse is returned to the client with the upload URL and the job
// it should poll for ingestion status.
type UploadResponse struct {
	URL        string `json:"url"`
	JobID      string `json:"jobId"`
	ObjectName string `json:"objectName"`
}

// DocumentService handles document upload orchestration and read access.
type DocumentService struct {
	storage    StorageClient
	jobs       IngestJobEnqueuer
	docs       DocumentQueryRepo
	bucketName string
	urlExpiry  time.Duration
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(storage StorageClient, jobs IngestJobEnqueuer, docs DocumentQueryRepo, bucketName string, urlExpiry time.Duration) *DocumentService {
	return &DocumentService{storage: storage, jobs: jobs, docs: docs, bucketName: bucketName, urlExpiry: urlExpiry}
}

// RequestUpload signs a PUT URL for direct client upload and enqueues the
// ingestion job that will consume it once the upload completes.
func (s *DocumentService) RequestUpload(ctx context.Context, filename, contentType string, sizeBytes int64) (*UploadResponse, error) {
	if !model.AllowedMimeTypes[contentType] {
		return nil, fmt.Errorf("service.RequestUpload: unsupported content type %q", contentType)
	}
	if sizeBytes <= 0 || sizeBytes > model.MaxFileSizeBytes {
		return nil, fmt.Errorf("service.RequestUpload: file size %d outside allowed bounds", sizeBytes)
	}

	objectName := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), filename)
	url, err := s.storage.SignedURL(s.bucketName, objectName, &SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().Add(s.urlExpiry),
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("service.RequestUpload: sign URL: %w", err)
	}

	job, err := s.jobs.Enqueue(ctx, objectName, sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("service.RequestUpload: enqueue job: %w", err)
	}

	return &UploadResponse{URL: url, JobID: job.ID, ObjectName: objectName}, nil
}

// GetDocument returns one document by id, or nil if it does not exist.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.GetDocument: %w", err)
	}
	return doc, nil
}

// ListDocuments lists documents scoped to a universe (nil = every universe).
func (s *DocumentService) ListDocuments(ctx context.Context, universeID *string, limit, offset int) ([]model.Document, int, error) {
	docs, total, err := s.docs.ListByUniverse(ctx, universeID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListDocuments: %w", err)
	}
	return docs, total, nil
}
