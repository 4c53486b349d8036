package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type mockStorage struct {
	url string
	err error
}

func (m *mockStorage) SignedURL(bucket, object string, opts *SignedURLOptions) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.url, nil
}

type mockJobEnqueuer struct {
	job *model.IngestionJob
	err error
}

func (m *mockJobEnqueuer) Enqueue(ctx context.Context, filename string, fileSizeBytes int64) (*model.IngestionJob, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.job, nil
}

type mockDocQueryRepo struct {
	doc   *model.Document
	docs  []model.Document
	total int
}

func (m *mockDocQueryRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return m.doc, nil
}

func (m *mockDocQueryRepo) ListByUniverse(ctx context.Context, universeID *string, limit, offset int) ([]model.Document, int, error) {
	return m.docs, m.total, nil
}

func TestRequestUpload_EnqueuesJobAndSignsURL(t *testing.T) {
	jobs := &mockJobEnqueuer{job: &model.IngestionJob{ID: "job-1"}}
	svc := NewDocumentService(&mockStorage{url: "https://storage.example/put"}, jobs, &mockDocQueryRepo{}, "bucket", time.Hour)

	resp, err := svc.RequestUpload(context.Background(), "rapport.pdf", "application/pdf", 1024)
	if err != nil {
		t.Fatalf("RequestUpload() error: %v", err)
	}
	if resp.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", resp.JobID)
	}
	if resp.URL == "" {
		t.Error("expected a non-empty signed URL")
	}
}

func TestRequestUpload_RejectsUnsupportedMimeType(t *testing.T) {
	svc := NewDocumentService(&mockStorage{}, &mockJobEnqueuer{}, &mockDocQueryRepo{}, "bucket", time.Hour)

	if _, err := svc.RequestUpload(context.Background(), "archive.zip", "application/zip", 1024); err == nil {
		t.Fatal("expected an error for an unsupported mime type")
	}
}

func TestRequestUpload_RejectsOversizedFile(t *testing.T) {
	svc := NewDocumentService(&mockStorage{}, &mockJobEnqueuer{}, &mockDocQueryRepo{}, "bucket", time.Hour)

	if _, err := svc.RequestUpload(context.Background(), "big.pdf", "application/pdf", model.MaxFileSizeBytes+1); err == nil {
		t.Fatal("expected an error for a file exceeding the size limit")
	}
}

func TestRequestUpload_PropagatesEnqueueError(t *testing.T) {
	svc := NewDocumentService(&mockStorage{url: "https://storage.example/put"}, &mockJobEnqueuer{err: errors.New("db down")}, &mockDocQueryRepo{}, "bucket", time.Hour)

	if _, err := svc.RequestUpload(context.Background(), "rapport.pdf", "application/pdf", 1024); err == nil {
		t.Fatal("expected the enqueue error to propagate")
	}
}

func TestGetDocument_ReturnsRepoResult(t *testing.T) {
	doc := &model.Document{ID: "doc-1", Title: "Rapport annuel"}
	svc := NewDocumentService(&mockStorage{}, &mockJobEnqueuer{}, &mockDocQueryRepo{doc: doc}, "bucket", time.Hour)

	got, err := svc.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if got.Title != "Rapport annuel" {
		t.Errorf("Title = %q, want Rapport annuel", got.Title)
	}
}

func TestListDocuments_ReturnsRepoResult(t *testing.T) {
	docs := []model.Document{{ID: "doc-1"}, {ID: "doc-2"}}
	svc := NewDocumentService(&mockStorage{}, &mockJobEnqueuer{}, &mockDocQueryRepo{docs: docs, total: 2}, "bucket", time.Hour)

	got, total, err := svc.ListDocuments(context.Background(), nil, 20, 0)
	if err != nil {
		t.Fatalf("ListDocuments() error: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("got %d docs (total=%d), want 2", len(got), total)
	}
}
