package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/stopwords"
)

type mockEmbeddingClientForRetrieval struct {
	err error
}

func (m *mockEmbeddingClientForRetrieval) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, embeddingDimension)
		vec[0] = 1.0
		result[i] = vec
	}
	return result, nil
}

type mockVectorSearcher struct {
	results []SearchCandidate
	err     error
}

func (m *mockVectorSearcher) SimilaritySearch(ctx context.Context, queryVec []float32, topK int, universeID *string, excludeChunkIDs []string) ([]SearchCandidate, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockBM25Searcher struct {
	results []SearchCandidate
	err     error
}

func (m *mockBM25Searcher) FullTextSearch(ctx context.Context, tsquery string, topK int, universeID *string, excludeChunkIDs []string) ([]SearchCandidate, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockAdjacencyResolver struct {
	parent *model.Chunk
	prev   *model.AdjacentPreview
	next   *model.AdjacentPreview
	err    error
}

func (m *mockAdjacencyResolver) ParentOf(ctx context.Context, childChunkID string) (*model.Chunk, error) {
	return m.parent, m.err
}

func (m *mockAdjacencyResolver) AdjacentPreviews(ctx context.Context, chunkID string) (*model.AdjacentPreview, *model.AdjacentPreview, error) {
	return m.prev, m.next, m.err
}

func candidate(chunkID, docID, content string, similarity float64) SearchCandidate {
	return SearchCandidate{
		Chunk:      model.Chunk{ID: chunkID, DocumentID: docID, Content: content},
		Document:   model.Document{ID: docID},
		Similarity: similarity,
	}
}

func TestRetrieve_VectorOnly(t *testing.T) {
	vec := &mockVectorSearcher{results: []SearchCandidate{
		candidate("c1", "doc-1", "relevant chunk", 0.95),
		candidate("c2", "doc-2", "another chunk", 0.90),
	}}
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), vec, nil, nil, nil)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test query", AlphaAuto: true, K: 5})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(result.Chunks))
	}
	if result.TotalCandidates != 2 {
		t.Errorf("TotalCandidates = %d, want 2", result.TotalCandidates)
	}
}

type mockQueryCacher struct {
	entries map[string]*RetrievalResult
	sets    int
}

func (m *mockQueryCacher) Get(ctx context.Context, key string) (*RetrievalResult, bool) {
	if m.entries == nil {
		return nil, false
	}
	r, ok := m.entries[key]
	return r, ok
}

func (m *mockQueryCacher) Set(ctx context.Context, key string, result *RetrievalResult) {
	if m.entries == nil {
		m.entries = make(map[string]*RetrievalResult)
	}
	m.entries[key] = result
	m.sets++
}

func TestRetrieve_CacheHitSkipsSearch(t *testing.T) {
	vec := &mockVectorSearcher{results: []SearchCandidate{candidate("c1", "doc-1", "relevant chunk", 0.95)}}
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), vec, nil, nil, nil)
	cache := &mockQueryCacher{}
	svc.SetCache(cache)

	params := RetrieveParams{Query: "test query", AlphaAuto: true, K: 5}

	first, err := svc.Retrieve(context.Background(), params)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected cache to be populated once, got %d sets", cache.sets)
	}

	vec.err = fmt.Errorf("search should not be called on a cache hit")
	second, err := svc.Retrieve(context.Background(), params)
	if err != nil {
		t.Fatalf("Retrieve() with cache hit error: %v", err)
	}
	if len(second.Chunks) != len(first.Chunks) {
		t.Errorf("cached result diverges from original: %d vs %d chunks", len(second.Chunks), len(first.Chunks))
	}
}

func TestRetrievalCacheKey_DiffersByUniverse(t *testing.T) {
	u1, u2 := "universe-1", "universe-2"
	p1 := RetrieveParams{Query: "q", UniverseID: &u1}
	p2 := RetrieveParams{Query: "q", UniverseID: &u2}

	if retrievalCacheKey(p1, 20, 5) == retrievalCacheKey(p2, 20, 5) {
		t.Error("expected different cache keys for different universes")
	}
}

func TestRetrievalCacheKey_Deterministic(t *testing.T) {
	p := RetrieveParams{Query: "q", AlphaAuto: true, K: 5}
	if retrievalCacheKey(p, 20, 5) != retrievalCacheKey(p, 20, 5) {
		t.Error("expected cache key to be deterministic for identical params")
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), &mockVectorSearcher{}, nil, nil, nil)

	_, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "", AlphaAuto: true})
	if err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRetrieve_EmbedFailureDegradesToLexical(t *testing.T) {
	embedder := NewEmbedderService(&mockEmbeddingClientForRetrieval{err: fmt.Errorf("embedding service unavailable")}, 0)
	lex := &mockBM25Searcher{results: []SearchCandidate{candidate("c1", "doc-1", "lexical hit", 0)}}
	svc := NewRetrieverService(embedder, &mockVectorSearcher{}, lex, nil, nil)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "résiliation contrat", AlphaAuto: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected 1 lexical-only chunk, got %d", len(result.Chunks))
	}
	if result.AlphaUsed != 0 {
		t.Errorf("AlphaUsed = %f, want 0 after embedding failure", result.AlphaUsed)
	}
}

func TestRetrieve_SearchError(t *testing.T) {
	searcher := &mockVectorSearcher{err: fmt.Errorf("search failed")}
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), searcher, nil, nil, nil)

	_, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true})
	if err == nil {
		t.Fatal("expected error when search fails")
	}
}

func TestRetrieve_NoCandidates(t *testing.T) {
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), &mockVectorSearcher{}, nil, nil, nil)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Errorf("expected 0 chunks, got %d", len(result.Chunks))
	}
}

func TestRetrieve_ReturnsTopK(t *testing.T) {
	results := make([]SearchCandidate, 10)
	for i := range results {
		results[i] = candidate(fmt.Sprintf("c%d", i), fmt.Sprintf("doc-%d", i), "chunk", 0.9-float64(i)*0.01)
	}
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), &mockVectorSearcher{results: results}, nil, nil, nil)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true, K: 5})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 5 {
		t.Errorf("expected 5 chunks (limit), got %d", len(result.Chunks))
	}
	if result.TotalCandidates != 10 {
		t.Errorf("TotalCandidates = %d, want 10", result.TotalCandidates)
	}
}

func TestAdaptiveAlpha_AcronymFavoursLexical(t *testing.T) {
	q := "Qu'est-ce que la RTT ?"
	got := adaptiveAlpha(q, stopwords.Analyze(q))
	if got != 0.3 {
		t.Errorf("adaptiveAlpha = %f, want 0.3 for acronym query", got)
	}
}

func TestAdaptiveAlpha_ExplanatoryFavoursVector(t *testing.T) {
	q := "Pourquoi mon solde de congés a-t-il baissé"
	got := adaptiveAlpha(q, stopwords.Analyze(q))
	if got != 0.7 {
		t.Errorf("adaptiveAlpha = %f, want 0.7 for explanatory query", got)
	}
}

func TestAdaptiveAlpha_ShortQueryDefault(t *testing.T) {
	q := "solde congés"
	got := adaptiveAlpha(q, stopwords.Analyze(q))
	if got != 0.4 {
		t.Errorf("adaptiveAlpha = %f, want 0.4 for a short query", got)
	}
}

func TestFuseRRF_OverlapRanksHighest(t *testing.T) {
	vector := []SearchCandidate{
		candidate("shared", "doc-1", "in both", 0.95),
		candidate("vec-only", "doc-2", "vector only", 0.85),
	}
	lexical := []SearchCandidate{
		candidate("shared", "doc-1", "in both", 0),
		candidate("lex-only", "doc-3", "lexical only", 0),
	}

	fused := fuseRRF(vector, lexical, 0.5)

	if len(fused) != 3 {
		t.Fatalf("fused count = %d, want 3", len(fused))
	}
	if fused[0].Chunk.ID != "shared" {
		t.Errorf("expected shared chunk (present in both legs) to rank first, got %s", fused[0].Chunk.ID)
	}
}

func TestFuseRRF_LexicalOnly(t *testing.T) {
	lexical := []SearchCandidate{candidate("c1", "doc-1", "lexical", 0)}
	fused := fuseRRF(nil, lexical, 0.5)
	if len(fused) != 1 || fused[0].Chunk.ID != "c1" {
		t.Fatalf("unexpected fused result: %+v", fused)
	}
}

func TestRetrieve_HierarchicalSubstitutesParent(t *testing.T) {
	child := candidate("child-1", "doc-1", "child text", 0.9)
	child.Chunk.ChunkLevel = model.ChunkLevelChild
	svc := NewRetrieverService(
		NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0),
		&mockVectorSearcher{results: []SearchCandidate{child}},
		nil,
		&mockAdjacencyResolver{parent: &model.Chunk{ID: "parent-1", DocumentID: "doc-1", ChunkLevel: model.ChunkLevelParent}},
		nil,
	)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true, Hierarchical: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 1 || result.Chunks[0].Chunk.ID != "parent-1" {
		t.Fatalf("expected child substituted by parent-1, got %+v", result.Chunks)
	}
}

func TestRetrieve_AdjacencyStitching(t *testing.T) {
	adj := &mockAdjacencyResolver{
		prev: &model.AdjacentPreview{ChunkID: "c0", Preview: "previous text"},
		next: &model.AdjacentPreview{ChunkID: "c2", Preview: "next text"},
	}
	svc := NewRetrieverService(
		NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0),
		&mockVectorSearcher{results: []SearchCandidate{candidate("c1", "doc-1", "middle", 0.9)}},
		nil, adj, nil,
	)

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if result.Chunks[0].PrevPreview != "previous text" || result.Chunks[0].NextPreview != "next text" {
		t.Errorf("adjacency previews not stitched: %+v", result.Chunks[0])
	}
}

func TestRetrieve_RerankerFailureFallsBackToFusedOrder(t *testing.T) {
	vec := &mockVectorSearcher{results: []SearchCandidate{
		candidate("c1", "doc-1", "a", 0.95),
		candidate("c2", "doc-2", "b", 0.85),
	}}
	svc := NewRetrieverService(NewEmbedderService(&mockEmbeddingClientForRetrieval{}, 0), vec, nil, nil, &failingReranker{})

	result, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "test", AlphaAuto: true, RerankEnabled: true})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if result.Reranked {
		t.Error("expected Reranked=false after reranker failure")
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected fused order preserved, got %d chunks", len(result.Chunks))
	}
}

type failingReranker struct{}

func (f *failingReranker) Rerank(ctx context.Context, query string, candidates []RankedChunk, returnK int) ([]RankedChunk, error) {
	return nil, fmt.Errorf("reranker unreachable")
}
