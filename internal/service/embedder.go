package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// embeddingDimension is the expected vector dimensionality (spec.md §3, §4.3).
const embeddingDimension = 1024

// EmbeddingClient abstracts the black-box HTTP embedding service (spec.md
// §6 calls it out explicitly as a generic dependency, not a specific
// vendor SDK).
type EmbeddingClient interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingCacher caches single-query embedding vectors keyed by an
// opaque hash of the normalized query text. A nil EmbeddingCacher on
// EmbedderService disables caching.
type EmbeddingCacher interface {
	Get(queryHash string) ([]float32, bool)
	Set(queryHash string, vec []float32)
}

// EmbedderService batches text, applies the role-marker prefix the
// embedding model requires, and returns L2-normalised vectors. Generalises
// the teacher's EmbedderService from a fixed batch size to a configurable
// one (default 96).
type EmbedderService struct {
	client    EmbeddingClient
	batchSize int
	cache     EmbeddingCacher
}

// Role distinguishes the two prefix markers spec.md §4.3 requires.
type Role string

const (
	RolePassage Role = "passage: "
	RoleQuery   Role = "query: "
)

// NewEmbedderService creates an EmbedderService. batchSize <= 0 falls back
// to the spec default of 96.
func NewEmbedderService(client EmbeddingClient, batchSize int) *EmbedderService {
	if batchSize <= 0 {
		batchSize = 96
	}
	return &EmbedderService{client: client, batchSize: batchSize}
}

// Embed generates embeddings for texts under the given role, batching as
// needed and retrying transient failures (service.withRetry).
func (s *EmbedderService) Embed(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("service.Embed: no texts provided")
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = string(role) + t
	}

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(prefixed); i += s.batchSize {
		end := i + s.batchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}
		batch := prefixed[i:end]

		vectors, err := withRetry(ctx, "EmbedderService.Embed", func() ([][]float32, error) {
			return s.client.EmbedTexts(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("service.Embed: batch %d-%d: %w", i, end, err)
		}

		for j, vec := range vectors {
			if len(vec) != embeddingDimension {
				return nil, apperr.New(apperr.KindIngestionFailure, "service.Embed",
					fmt.Errorf("vector %d has %d dimensions, want %d", i+j, len(vec), embeddingDimension))
			}
			vectors[j] = l2Normalize(vec)
		}

		allVectors = append(allVectors, vectors...)
	}

	if len(allVectors) != len(texts) {
		return nil, fmt.Errorf("service.Embed: got %d vectors for %d texts", len(allVectors), len(texts))
	}

	return allVectors, nil
}

// EmbedPassages is a convenience wrapper used by the ingestion pipeline.
func (s *EmbedderService) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	return s.Embed(ctx, texts, RolePassage)
}

// SetCache attaches an EmbeddingCacher to the service. Passing nil disables
// caching; safe to call at most once, before the service receives
// concurrent traffic.
func (s *EmbedderService) SetCache(cache EmbeddingCacher) {
	s.cache = cache
}

// EmbedQuery embeds a single retrieval query, consulting the cache (if
// attached) before calling out to the embedding client.
func (s *EmbedderService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var hash string
	if s.cache != nil {
		hash = embeddingQueryHash(query)
		if vec, ok := s.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vecs, err := s.Embed(ctx, []string{query}, RoleQuery)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(hash, vecs[0])
	}
	return vecs[0], nil
}

// embeddingQueryHash normalizes and hashes a query string the same way
// cache.EmbeddingQueryHash does, kept local to avoid service importing
// cache (cache already imports service for RetrievalResult).
func embeddingQueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("emb:%x", h[:16])
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
