package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ReadResult is the external reader's output: normalised text plus whatever
// structural annotations it was able to recover. Generalises the teacher's
// Document-AI-specific ParseResult to a storage-agnostic contract (§4.4
// step 2): the reader is a black box that knows nothing about GCS.
type ReadResult struct {
	Text     string
	Pages    int
	Headings []HeadingMark
	Images   []ExtractedImage
}

// HeadingMark anchors a heading path to a byte offset into ReadResult.Text.
type HeadingMark struct {
	Offset int
	Path   []string
}

// ExtractedImage is one image the reader pulled out of the source file,
// before it has been associated with a chunk or assigned an id.
type ExtractedImage struct {
	PageNumber  int
	BoxX        float64
	BoxY        float64
	BoxWidth    float64
	BoxHeight   float64
	OCRText     string
	Description string
	Confidence  float64
	StoragePath string
}

// DocumentReader abstracts the external reader (OCR/VLM engine) that turns
// an uploaded file into text, images, and heading structure. Generalises
// the teacher's DocumentAIClient+ObjectDownloader pairing in parser.go,
// which resolved a gcsURI directly; here the pipeline resolves the file by
// job id and only asks the reader to read it.
type DocumentReader interface {
	Read(ctx context.Context, storageKey string) (*ReadResult, error)
}

// JobRepo claims and finalises rows in ingestion_jobs (§4.4). ClaimNext must
// be backed by `SELECT ... FOR UPDATE SKIP LOCKED` so several workers
// coordinate without double-processing a job.
type JobRepo interface {
	ClaimNext(ctx context.Context) (*model.IngestionJob, error)
	MarkCompleted(ctx context.Context, jobID, documentID string, chunksCreated int) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
}

// IngestionRepo commits one fully-assembled document atomically: the
// document row, every chunk (with adjacency and parent links already
// resolved), and every image, in a single transaction (§4.4 step 5). A
// document's chunks are either fully present or entirely absent to readers.
type IngestionRepo interface {
	InsertDocument(ctx context.Context, doc *model.Document, chunks []model.Chunk, images []model.DocumentImage) error
}

// AuditLogger records a completed ingestion for traceability. A nil audit
// logger simply skips the call.
type AuditLogger interface {
	Log(ctx context.Context, action, actorID, resourceID, resourceType string) error
}

// PipelineService drives one ingestion job end to end: read, chunk, embed,
// commit. Generalises the teacher's PipelineService — which wired a fixed
// GCS/Document-AI/Vertex-AI stack and a package-level concurrency guard
// directly into ProcessDocument — into a job-claim model where the claim
// itself (via JobRepo.ClaimNext) is the concurrency guard.
type PipelineService struct {
	jobs      JobRepo
	ingestion IngestionRepo
	reader    DocumentReader
	chunker   *ChunkerService
	embedder  *EmbedderService
	audit     AuditLogger
	redactor  Redactor
}

// NewPipelineService creates a PipelineService. redactor may be nil, which
// skips the PII scan entirely.
func NewPipelineService(jobs JobRepo, ingestion IngestionRepo, reader DocumentReader, chunker *ChunkerService, embedder *EmbedderService, audit AuditLogger, redactor Redactor) *PipelineService {
	return &PipelineService{
		jobs:      jobs,
		ingestion: ingestion,
		reader:    reader,
		chunker:   chunker,
		embedder:  embedder,
		audit:     audit,
		redactor:  redactor,
	}
}

// ProcessNextJob claims and fully processes one pending job. It reports
// (false, nil) when the queue was empty, so the worker's poll loop knows to
// sleep rather than spin. A failure partway through a job never surfaces as
// an error from this call — the job row is marked failed instead and the
// worker keeps polling.
func (s *PipelineService) ProcessNextJob(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("service.ProcessNextJob: claim: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := s.processJob(ctx, job); err != nil {
		slog.Error("ingestion job failed", "job_id", job.ID, "filename", job.Filename, "error", err)
		if failErr := s.jobs.MarkFailed(ctx, job.ID, err.Error()); failErr != nil {
			return true, fmt.Errorf("service.ProcessNextJob: mark failed: %w", failErr)
		}
	}
	return true, nil
}

// processJob runs the read/chunk/embed/commit sequence of §4.4 for one job.
// Any step's error aborts the job; no partial document is ever inserted,
// since InsertDocument is the sole write and it is transactional.
func (s *PipelineService) processJob(ctx context.Context, job *model.IngestionJob) error {
	slog.Info("ingestion: reading", "job_id", job.ID, "filename", job.Filename)
	read, err := s.reader.Read(ctx, job.Filename)
	if err != nil {
		return apperr.New(apperr.KindIngestionFailure, "service.processJob.Read", err)
	}
	if strings.TrimSpace(read.Text) == "" {
		return apperr.New(apperr.KindIngestionFailure, "service.processJob.Read", fmt.Errorf("reader returned empty text"))
	}

	wordCount := len(strings.Fields(read.Text))

	if s.redactor != nil {
		scan, err := s.redactor.Scan(ctx, read.Text)
		if err != nil {
			slog.Warn("ingestion: PII scan failed, continuing unredacted", "job_id", job.ID, "error", err)
		} else if scan.FindingCount > 0 {
			slog.Warn("ingestion: PII detected in source document", "job_id", job.ID, "finding_count", scan.FindingCount, "types", scan.Types)
		}
	}

	slog.Info("ingestion: chunking", "job_id", job.ID, "words", wordCount)
	chunkResults, err := s.chunker.Chunk(ctx, read.Text, wordCount)
	if err != nil {
		return apperr.New(apperr.KindIngestionFailure, "service.processJob.Chunk", err)
	}

	texts := make([]string, len(chunkResults))
	for i, c := range chunkResults {
		texts[i] = c.Content
	}

	slog.Info("ingestion: embedding", "job_id", job.ID, "chunks", len(texts))
	vectors, err := s.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		return apperr.New(apperr.KindIngestionFailure, "service.processJob.Embed", err)
	}

	docID := uuid.New().String()
	doc := &model.Document{
		ID:        docID,
		Title:     titleFromFilename(job.Filename),
		Source:    job.Filename,
		FullText:  read.Text,
		WordCount: wordCount,
		Language:  "fr",
	}

	chunks := assembleChunks(docID, chunkResults, vectors, read.Pages)
	images := assembleImages(docID, chunks, read.Images, read.Pages)

	slog.Info("ingestion: committing", "job_id", job.ID, "document_id", docID, "chunks", len(chunks), "images", len(images))
	if err := s.ingestion.InsertDocument(ctx, doc, chunks, images); err != nil {
		return apperr.New(apperr.KindIngestionFailure, "service.processJob.InsertDocument", err)
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID, docID, len(chunks)); err != nil {
		return fmt.Errorf("service.processJob: mark completed: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "document.ingested", "", docID, "document"); err != nil {
			slog.Warn("ingestion: audit log failed", "job_id", job.ID, "error", err)
		}
	}

	slog.Info("ingestion: completed", "job_id", job.ID, "document_id", docID, "chunks", len(chunks))
	return nil
}

// assembleChunks assigns ids and resolves adjacency/parent links across a
// flat or hierarchical run of ChunkResult. Parent and child chunks are
// chained separately (§4.2): a child's prev/next neighbour is the previous
// or next child in document order, never an interleaved parent.
//
// When totalPages is known, each chunk's PageNumber is derived from its
// DocumentPosition — the same position-to-page approximation assembleImages
// uses, since the reader has no notion of our chunk boundaries either.
func assembleChunks(documentID string, results []ChunkResult, vectors [][]float32, totalPages int) []model.Chunk {
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = uuid.New().String()
	}
	now := time.Now().UTC()

	chunks := make([]model.Chunk, len(results))
	for i, r := range results {
		chunks[i] = model.Chunk{
			ID:               ids[i],
			DocumentID:       documentID,
			ChunkIndex:       i,
			Content:          r.Content,
			Embedding:        vectors[i],
			TokenCount:       r.TokenCount,
			SectionHierarchy: r.SectionHierarchy,
			HeadingContext:   r.HeadingContext,
			DocumentPosition: r.DocumentPosition,
			ChunkLevel:       r.Level,
			CreatedAt:        now,
		}
		if r.ParentIndex != nil {
			chunks[i].ParentChunkID = &ids[*r.ParentIndex]
		}
		if totalPages > 0 {
			page := int(math.Min(float64(totalPages-1), r.DocumentPosition*float64(totalPages))) + 1
			chunks[i].PageNumber = &page
		}
	}

	linkAdjacency(chunks, ids, func(c model.Chunk) bool { return c.ChunkLevel != model.ChunkLevelParent })
	linkAdjacency(chunks, ids, func(c model.Chunk) bool { return c.ChunkLevel == model.ChunkLevelParent })

	return chunks
}

// linkAdjacency chains PrevChunkID/NextChunkID across the subset of chunks
// for which keep reports true, preserving their existing relative order.
func linkAdjacency(chunks []model.Chunk, ids []string, keep func(model.Chunk) bool) {
	last := -1
	for i := range chunks {
		if !keep(chunks[i]) {
			continue
		}
		if last >= 0 {
			chunks[last].NextChunkID = &ids[i]
			chunks[i].PrevChunkID = &ids[last]
		}
		last = i
	}
}

// assembleImages assigns ids and, when the reader reported a total page
// count, attaches each image to the chunk whose DocumentPosition is
// closest to the image's page — the reader has no notion of our chunk
// boundaries, so this is only an approximation of "the chunk the image
// appeared alongside".
func assembleImages(documentID string, chunks []model.Chunk, images []ExtractedImage, totalPages int) []model.DocumentImage {
	out := make([]model.DocumentImage, len(images))
	for i, img := range images {
		out[i] = model.DocumentImage{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			PageNumber:  img.PageNumber,
			BoxX:        img.BoxX,
			BoxY:        img.BoxY,
			BoxWidth:    img.BoxWidth,
			BoxHeight:   img.BoxHeight,
			OCRText:     img.OCRText,
			Description: img.Description,
			Confidence:  img.Confidence,
			StoragePath: img.StoragePath,
		}
		if totalPages > 0 && len(chunks) > 0 {
			pos := math.Min(1, float64(img.PageNumber)/float64(totalPages))
			idx := nearestChunkByPosition(chunks, pos)
			out[i].ChunkID = &chunks[idx].ID
		}
	}
	return out
}

func nearestChunkByPosition(chunks []model.Chunk, pos float64) int {
	best, bestDiff := 0, math.Abs(chunks[0].DocumentPosition-pos)
	for i := 1; i < len(chunks); i++ {
		diff := math.Abs(chunks[i].DocumentPosition - pos)
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// titleFromFilename derives a human-readable title from an uploaded
// object key (e.g. "uploads/<job-id>/rapport_final.pdf"), since the reader
// does not report a document title.
func titleFromFilename(filename string) string {
	filename = filepath.Base(filename)
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	return strings.TrimSpace(base)
}
