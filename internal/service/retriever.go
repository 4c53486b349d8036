package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/stopwords"
)

const rrfK = 60

// QueryCacher caches RetrievalResult across repeated or near-repeated
// queries. A nil QueryCacher on RetrieverService disables caching; any
// cache error is the cache implementation's own concern (logged there),
// never surfaced to Retrieve's caller, since retrieval correctness never
// depends on a cache hit.
type QueryCacher interface {
	Get(ctx context.Context, key string) (*RetrievalResult, bool)
	Set(ctx context.Context, key string, result *RetrievalResult)
}

// SearchCandidate is one chunk surfaced by either the vector or lexical leg
// of hybrid search, before fusion.
type SearchCandidate struct {
	Chunk      model.Chunk
	Document   model.Document
	Similarity float64 // cosine similarity, vector leg only (0 if lexical-only hit)
	LexScore   float64 // ts_rank, lexical leg only (0 if vector-only hit)
}

// VectorSearcher abstracts pgvector cosine similarity search.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, queryVec []float32, topK int, universeID *string, excludeChunkIDs []string) ([]SearchCandidate, error)
}

// BM25Searcher abstracts French-stemmed full-text search over content_tsv.
type BM25Searcher interface {
	FullTextSearch(ctx context.Context, tsquery string, topK int, universeID *string, excludeChunkIDs []string) ([]SearchCandidate, error)
}

// AdjacencyResolver fetches prev/next chunk previews and parent chunk
// content for hierarchical substitution and adjacency stitching (§4.5).
type AdjacencyResolver interface {
	ParentOf(ctx context.Context, childChunkID string) (*model.Chunk, error)
	AdjacentPreviews(ctx context.Context, chunkID string) (prev, next *model.AdjacentPreview, err error)
}

// Reranker abstracts the cross-encoder reranking service (§4.6).
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RankedChunk, returnK int) ([]RankedChunk, error)
}

// RankedChunk is a chunk with its fused (and optionally reranked) score,
// ready for the orchestrator to present as a source.
type RankedChunk struct {
	Chunk           model.Chunk
	Document        model.Document
	Similarity      float64
	FusedScore      float64
	RerankScore     *float64
	PrevPreview     string
	NextPreview     string
}

// RetrievalResult is the output of one hybrid search.
type RetrievalResult struct {
	Chunks          []RankedChunk
	TotalCandidates int
	AlphaUsed       float64
	Reranked        bool
}

// RetrieveParams is the full input to RetrieverService.Retrieve (§4.5).
type RetrieveParams struct {
	Query              string
	Alpha              float64 // meaningful only when AlphaAuto is false
	AlphaAuto          bool
	K                  int // final result count
	UniverseID         *string
	ExcludeChunkIDs    []string // blacklisted chunks, resolved by the caller
	Hierarchical       bool
	RerankEnabled      bool
	RerankTopK         int
}

// RetrieverService implements the hybrid retrieval engine of spec.md §4.5,
// generalising the teacher's fixed-weight RetrieverService into adaptive-
// alpha RRF fusion over vector and lexical search.
type RetrieverService struct {
	embedder   *EmbedderService
	vector     VectorSearcher
	lexical    BM25Searcher
	adjacency  AdjacencyResolver
	reranker   Reranker
	cache      QueryCacher
	defaultTopK int
}

// SetCache attaches a QueryCacher to the service. Passing nil disables
// caching; this is safe to call at most once, before the service receives
// concurrent traffic.
func (s *RetrieverService) SetCache(cache QueryCacher) {
	s.cache = cache
}

// NewRetrieverService creates a RetrieverService. lexical, adjacency and
// reranker may be nil: retrieval degrades to vector-only, skips adjacency
// stitching, and skips reranking respectively.
func NewRetrieverService(embedder *EmbedderService, vector VectorSearcher, lexical BM25Searcher, adjacency AdjacencyResolver, reranker Reranker) *RetrieverService {
	return &RetrieverService{
		embedder:    embedder,
		vector:      vector,
		lexical:     lexical,
		adjacency:   adjacency,
		reranker:    reranker,
		defaultTopK: 20,
	}
}

// Retrieve runs the full hybrid pipeline and returns the top-K fused (and,
// if enabled, reranked) chunks.
func (s *RetrieverService) Retrieve(ctx context.Context, p RetrieveParams) (*RetrievalResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("service.Retrieve: query is empty")
	}
	topK := p.RerankTopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	k := p.K
	if k <= 0 {
		k = 5
	}

	cacheKey := retrievalCacheKey(p, topK, k)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	analysis := stopwords.Analyze(p.Query)
	alpha := p.Alpha
	if p.AlphaAuto {
		alpha = adaptiveAlpha(p.Query, analysis)
	}

	queryVec, embedErr := s.embedder.EmbedQuery(ctx, p.Query)

	var vectorResults, lexResults []SearchCandidate
	g, gCtx := errgroup.WithContext(ctx)

	if embedErr == nil {
		g.Go(func() error {
			var err error
			vectorResults, err = s.vector.SimilaritySearch(gCtx, queryVec, topK, p.UniverseID, p.ExcludeChunkIDs)
			return err
		})
	} else {
		slog.Warn("service.Retrieve: embedding failed, degrading to lexical-only", "error", embedErr)
		alpha = 0
	}

	tsquery := analysis.Tsquery()
	if s.lexical != nil && tsquery != "" {
		g.Go(func() error {
			var err error
			lexResults, err = s.lexical.FullTextSearch(gCtx, tsquery, topK, p.UniverseID, p.ExcludeChunkIDs)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.Retrieve: search: %w", err)
	}

	if len(vectorResults) == 0 && len(lexResults) == 0 {
		empty := &RetrievalResult{Chunks: []RankedChunk{}, AlphaUsed: alpha}
		if s.cache != nil {
			s.cache.Set(ctx, cacheKey, empty)
		}
		return empty, nil
	}

	fused := fuseRRF(vectorResults, lexResults, alpha)
	totalCandidates := len(fused)

	if p.Hierarchical {
		fused = s.resolveParents(ctx, fused)
	}

	ranked := make([]RankedChunk, len(fused))
	for i, f := range fused {
		ranked[i] = RankedChunk{Chunk: f.Chunk, Document: f.Document, Similarity: f.Similarity, FusedScore: f.score}
	}

	reranked := false
	if p.RerankEnabled && s.reranker != nil {
		out, err := s.reranker.Rerank(ctx, p.Query, ranked, k)
		if err != nil {
			slog.Warn("service.Retrieve: reranker failed, falling back to fused order", "error", err)
		} else {
			ranked = out
			reranked = true
		}
	}

	if len(ranked) > k {
		ranked = ranked[:k]
	}

	if s.adjacency != nil {
		s.stitchAdjacency(ctx, ranked)
	}

	result := &RetrievalResult{
		Chunks:          ranked,
		TotalCandidates: totalCandidates,
		AlphaUsed:       alpha,
		Reranked:        reranked,
	}
	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, result)
	}
	return result, nil
}

// retrievalCacheKey builds a deterministic cache key from the parameters
// that affect Retrieve's output. UniverseID and ExcludeChunkIDs are
// included since they change which chunks are eligible.
func retrievalCacheKey(p RetrieveParams, topK, k int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%v\x00%v\x00%d\x00%d\x00%v\x00%v\x00%d",
		p.Query, p.AlphaAuto, p.Alpha, topK, k, p.Hierarchical, p.RerankEnabled, p.RerankTopK)
	if p.UniverseID != nil {
		fmt.Fprintf(h, "\x00universe:%s", *p.UniverseID)
	}
	for _, id := range p.ExcludeChunkIDs {
		fmt.Fprintf(h, "\x00exclude:%s", id)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// adaptiveAlpha implements spec.md §4.5's alpha="auto" decision table.
func adaptiveAlpha(query string, a stopwords.Analysis) float64 {
	if a.HasAcronym || a.HasProperNoun {
		return 0.3
	}
	lower := strings.ToLower(query)
	for _, marker := range []string{"pourquoi", "comment", "expliquer", "signifie"} {
		if strings.Contains(lower, marker) {
			return 0.7
		}
	}
	if len(a.Tokens) <= 4 {
		return 0.4
	}
	return 0.5
}

type fusedCandidate struct {
	Chunk      model.Chunk
	Document   model.Document
	Similarity float64
	score      float64
}

// fuseRRF implements the Reciprocal Rank Fusion of spec.md §4.5:
// score(c) = alpha·1/(60+rank_vec) + (1-alpha)·1/(60+rank_lex), with a
// missing rank contributing 0. Ties break by higher similarity, then lower
// chunk_index.
func fuseRRF(vector, lexical []SearchCandidate, alpha float64) []fusedCandidate {
	vecRank := make(map[string]int, len(vector))
	for i, c := range vector {
		vecRank[c.Chunk.ID] = i
	}
	lexRank := make(map[string]int, len(lexical))
	for i, c := range lexical {
		lexRank[c.Chunk.ID] = i
	}

	byID := make(map[string]SearchCandidate)
	for _, c := range vector {
		byID[c.Chunk.ID] = c
	}
	for _, c := range lexical {
		if _, ok := byID[c.Chunk.ID]; !ok {
			byID[c.Chunk.ID] = c
		}
	}

	out := make([]fusedCandidate, 0, len(byID))
	for id, c := range byID {
		var score float64
		if r, ok := vecRank[id]; ok {
			score += alpha * 1.0 / float64(rrfK+r+1)
		}
		if r, ok := lexRank[id]; ok {
			score += (1 - alpha) * 1.0 / float64(rrfK+r+1)
		}
		out = append(out, fusedCandidate{Chunk: c.Chunk, Document: c.Document, Similarity: c.Similarity, score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Chunk.ChunkIndex < out[j].Chunk.ChunkIndex
	})

	return out
}

// resolveParents substitutes each child chunk with its parent's content,
// merging duplicate parents and keeping the best child's score (§4.5).
func (s *RetrieverService) resolveParents(ctx context.Context, fused []fusedCandidate) []fusedCandidate {
	seen := make(map[string]int) // parent chunk id -> index in out
	var out []fusedCandidate

	for _, f := range fused {
		if f.Chunk.ChunkLevel != model.ChunkLevelChild {
			out = append(out, f)
			continue
		}
		parent, err := s.adjacency.ParentOf(ctx, f.Chunk.ID)
		if err != nil || parent == nil {
			slog.Warn("service.resolveParents: parent lookup failed, keeping child", "chunk_id", f.Chunk.ID, "error", err)
			out = append(out, f)
			continue
		}
		if idx, ok := seen[parent.ID]; ok {
			if f.score > out[idx].score {
				out[idx].score = f.score
				out[idx].Similarity = f.Similarity
			}
			continue
		}
		seen[parent.ID] = len(out)
		out = append(out, fusedCandidate{Chunk: *parent, Document: f.Document, Similarity: f.Similarity, score: f.score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// stitchAdjacency fetches ~150-char previews of each chunk's neighbours so
// the orchestrator can present a surrounding-context window. Stitched
// neighbours never count toward k.
// stitchAdjacency fetches each chunk's prev/next preview concurrently; a
// single chunk's lookup failing degrades that chunk silently rather than
// failing the whole retrieval.
func (s *RetrieverService) stitchAdjacency(ctx context.Context, ranked []RankedChunk) {
	g, gCtx := errgroup.WithContext(ctx)
	for i := range ranked {
		i := i
		g.Go(func() error {
			prev, next, err := s.adjacency.AdjacentPreviews(gCtx, ranked[i].Chunk.ID)
			if err != nil {
				return nil
			}
			if prev != nil {
				ranked[i].PrevPreview = prev.Preview
			}
			if next != nil {
				ranked[i].NextPreview = next.Preview
			}
			return nil
		})
	}
	_ = g.Wait()
}
