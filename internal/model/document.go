package model

import (
	"encoding/json"
	"time"
)

// Document is a normalised, searchable unit of the corpus: one ingested
// French-language technical or administrative document.
type Document struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Source     string          `json:"source"`
	FullText   string          `json:"-"`
	UniverseID *string         `json:"universeId,omitempty"`
	WordCount  int             `json:"wordCount"`
	Language   string          `json:"language"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// AllowedMimeTypes lists the mime types the document reader accepts for upload.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"text/csv":   true,
}

// MaxFileSizeBytes is the maximum allowed upload size (50 MB).
const MaxFileSizeBytes = 50 * 1024 * 1024

// ChunkLevel distinguishes parent (context) chunks from child (retrieval-unit)
// chunks in hierarchical chunking mode. The empty value marks a flat
// (non-hierarchical) chunk.
type ChunkLevel string

const (
	ChunkLevelParent ChunkLevel = "parent"
	ChunkLevelChild  ChunkLevel = "child"
	ChunkLevelFlat   ChunkLevel = ""
)

// Chunk is a contiguous, independently embedded fragment of a Document.
//
// Invariants: (DocumentID, ChunkIndex) is unique; a child chunk's ParentChunkID
// must reference a parent chunk with the same DocumentID; ContentTSV is
// recomputed whenever Content changes (enforced by a DB trigger, see
// migrations/sql/001_initial_schema.up.sql).
type Chunk struct {
	ID               string          `json:"id"`
	DocumentID       string          `json:"documentId"`
	ChunkIndex       int             `json:"chunkIndex"`
	Content          string          `json:"content"`
	Embedding        []float32       `json:"-"`
	TokenCount       int             `json:"tokenCount"`
	SectionHierarchy []string        `json:"sectionHierarchy,omitempty"`
	HeadingContext   string          `json:"headingContext,omitempty"`
	DocumentPosition float64         `json:"documentPosition"`
	PageNumber       *int            `json:"pageNumber,omitempty"`
	PrevChunkID      *string         `json:"prevChunkId,omitempty"`
	NextChunkID      *string         `json:"nextChunkId,omitempty"`
	ParentChunkID    *string         `json:"parentChunkId,omitempty"`
	ChunkLevel       ChunkLevel      `json:"chunkLevel,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// SizeCategory buckets a document by word count; it drives the chunker's
// adaptive policy (§4.2) and is persisted in a chunk's Metadata so a
// re-ingestion with a different policy can be detected.
type SizeCategory string

const (
	SizeVerySmall SizeCategory = "very_small" // < 800 words
	SizeSmall     SizeCategory = "small"      // < 2000 words
	SizeMedium    SizeCategory = "medium"     // < 5000 words
	SizeLarge     SizeCategory = "large"      // otherwise
)

// ClassifySize returns the adaptive chunking band for a word count, per
// spec.md §4.2 (a document of exactly 800 words is "small", not "very_small").
func ClassifySize(wordCount int) SizeCategory {
	switch {
	case wordCount < 800:
		return SizeVerySmall
	case wordCount < 2000:
		return SizeSmall
	case wordCount < 5000:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// DocumentImage is an image extracted from a document by the document reader
// (the black-box OCR/VLM engine), optionally attached to the chunk whose
// text surrounds it.
type DocumentImage struct {
	ID          string  `json:"id"`
	DocumentID  string  `json:"documentId"`
	ChunkID     *string `json:"chunkId,omitempty"`
	PageNumber  int     `json:"pageNumber"`
	BoxX        float64 `json:"boxX"`
	BoxY        float64 `json:"boxY"`
	BoxWidth    float64 `json:"boxWidth"`
	BoxHeight   float64 `json:"boxHeight"`
	OCRText     string  `json:"ocrText,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
	StoragePath string  `json:"storagePath"`
}

// AdjacentPreview is a short preview of a neighbouring chunk's content,
// stitched onto a retrieval result for presentation (§4.5 adjacency stitching).
type AdjacentPreview struct {
	ChunkID string `json:"chunkId"`
	Preview string `json:"preview"`
}
