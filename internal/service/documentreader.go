package service

import (
	"context"
	"fmt"
)

// DocumentReaderAdapter adapts ParserService's GCS-URI-based Extract to
// PipelineService's DocumentReader contract, which only knows the object
// name the upload handler assigned (§4.4 step 2). The bucket is fixed at
// construction time since every upload lands in the one shared bucket
// named by config.SharedStorageBucket.
type DocumentReaderAdapter struct {
	parser *ParserService
	bucket string
}

// NewDocumentReaderAdapter creates a DocumentReaderAdapter.
func NewDocumentReaderAdapter(parser *ParserService, bucket string) *DocumentReaderAdapter {
	return &DocumentReaderAdapter{parser: parser, bucket: bucket}
}

var _ DocumentReader = (*DocumentReaderAdapter)(nil)

// Read implements DocumentReader.
func (a *DocumentReaderAdapter) Read(ctx context.Context, storageKey string) (*ReadResult, error) {
	gcsURI := fmt.Sprintf("gs://%s/%s", a.bucket, storageKey)

	parsed, err := a.parser.Extract(ctx, gcsURI)
	if err != nil {
		return nil, fmt.Errorf("service.DocumentReaderAdapter.Read: %w", err)
	}

	return &ReadResult{
		Text:  parsed.Text,
		Pages: parsed.Pages,
	}, nil
}
