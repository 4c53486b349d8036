package model

import "time"

// IngestionJobStatus is the lifecycle state of an IngestionJob.
type IngestionJobStatus string

const (
	JobPending    IngestionJobStatus = "pending"
	JobProcessing IngestionJobStatus = "processing"
	JobCompleted  IngestionJobStatus = "completed"
	JobFailed     IngestionJobStatus = "failed"
)

// IngestionJob tracks one document's progress through the ingestion
// pipeline (§3, §4.4). Jobs are created by the upload API, advanced by the
// ingestion worker, and terminal on success or failure.
type IngestionJob struct {
	ID             string             `json:"id"`
	Filename       string             `json:"filename"`
	FileSizeBytes  int64              `json:"fileSizeBytes"`
	Status         IngestionJobStatus `json:"status"`
	Progress       int                `json:"progress"` // 0..100
	DocumentID     *string            `json:"documentId,omitempty"`
	ChunksCreated  int                `json:"chunksCreated"`
	ErrorMessage   string             `json:"errorMessage,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
}
