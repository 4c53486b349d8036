package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
)

// mockEmbeddingClient implements EmbeddingClient for testing.
type mockEmbeddingClient struct {
	vectors    [][]float32
	err        error
	calls      int
	sawPrefix  []string
}

func (m *mockEmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	m.sawPrefix = append(m.sawPrefix, texts...)
	if m.err != nil {
		return nil, m.err
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		if i < len(m.vectors) {
			result[i] = m.vectors[i]
		} else {
			vec := make([]float32, embeddingDimension)
			vec[0] = float32(i + 1)
			vec[1] = 0.5
			result[i] = vec
		}
	}
	return result, nil
}

func TestEmbed_Success(t *testing.T) {
	vec := make([]float32, embeddingDimension)
	vec[0] = 1.0
	client := &mockEmbeddingClient{vectors: [][]float32{vec}}
	svc := NewEmbedderService(client, 0)

	vectors, err := svc.Embed(context.Background(), []string{"hello world"}, RolePassage)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if len(vectors[0]) != embeddingDimension {
		t.Errorf("vector dimensions = %d, want %d", len(vectors[0]), embeddingDimension)
	}
}

func TestEmbed_PrefixesWithRoleMarker(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0)

	_, err := svc.Embed(context.Background(), []string{"télétravail"}, RoleQuery)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(client.sawPrefix) != 1 || !strings.HasPrefix(client.sawPrefix[0], "query: ") {
		t.Errorf("expected query-prefixed text, got %v", client.sawPrefix)
	}
}

func TestEmbed_L2Normalized(t *testing.T) {
	vec := make([]float32, embeddingDimension)
	vec[0] = 3.0
	vec[1] = 4.0
	client := &mockEmbeddingClient{vectors: [][]float32{vec}}
	svc := NewEmbedderService(client, 0)

	vectors, err := svc.Embed(context.Background(), []string{"test"}, RolePassage)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}

	var sumSq float64
	for _, v := range vectors[0] {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 0.001 {
		t.Errorf("L2 norm = %f, want ~1.0", norm)
	}
}

func TestEmbed_Batching(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0) // default batch size 96

	texts := make([]string, 200)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vectors, err := svc.Embed(context.Background(), texts, RolePassage)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vectors) != 200 {
		t.Errorf("expected 200 vectors, got %d", len(vectors))
	}
	if client.calls != 3 { // 96 + 96 + 8
		t.Errorf("expected 3 API calls, got %d", client.calls)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0)

	_, err := svc.Embed(context.Background(), []string{}, RolePassage)
	if err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEmbed_ClientError(t *testing.T) {
	client := &mockEmbeddingClient{err: fmt.Errorf("API rate limit exceeded")}
	svc := NewEmbedderService(client, 0)

	_, err := svc.Embed(context.Background(), []string{"test"}, RolePassage)
	if err == nil {
		t.Fatal("expected error when client fails")
	}
}

func TestEmbed_WrongDimensions(t *testing.T) {
	vec := make([]float32, 512)
	client := &mockEmbeddingClient{vectors: [][]float32{vec}}
	svc := NewEmbedderService(client, 0)

	_, err := svc.Embed(context.Background(), []string{"test"}, RolePassage)
	if err == nil {
		t.Fatal("expected error for wrong dimensions")
	}
}

func TestEmbedQuery_ReturnsSingleVector(t *testing.T) {
	vec := make([]float32, embeddingDimension)
	vec[0] = 1.0
	client := &mockEmbeddingClient{vectors: [][]float32{vec}}
	svc := NewEmbedderService(client, 0)

	got, err := svc.EmbedQuery(context.Background(), "comment résilier mon contrat")
	if err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if len(got) != embeddingDimension {
		t.Errorf("dimensions = %d, want %d", len(got), embeddingDimension)
	}
}

func TestL2Normalize(t *testing.T) {
	vec := []float32{3.0, 4.0, 0, 0, 0}
	result := l2Normalize(vec)

	if math.Abs(float64(result[0])-0.6) > 0.001 {
		t.Errorf("result[0] = %f, want ~0.6", result[0])
	}
	if math.Abs(float64(result[1])-0.8) > 0.001 {
		t.Errorf("result[1] = %f, want ~0.8", result[1])
	}
}

func TestL2Normalize_ZeroVector(t *testing.T) {
	vec := []float32{0, 0, 0}
	result := l2Normalize(vec)
	if result[0] != 0 || result[1] != 0 || result[2] != 0 {
		t.Error("zero vector should remain zero")
	}
}

type mockEmbeddingCacher struct {
	entries map[string][]float32
	sets    int
}

func (m *mockEmbeddingCacher) Get(hash string) ([]float32, bool) {
	vec, ok := m.entries[hash]
	return vec, ok
}

func (m *mockEmbeddingCacher) Set(hash string, vec []float32) {
	if m.entries == nil {
		m.entries = make(map[string][]float32)
	}
	m.entries[hash] = vec
	m.sets++
}

func TestEmbedQuery_CacheHitSkipsClient(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0)
	cacher := &mockEmbeddingCacher{}
	svc.SetCache(cacher)

	first, err := svc.EmbedQuery(context.Background(), "congés payés")
	if err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if cacher.sets != 1 {
		t.Fatalf("expected cache to be populated once, got %d sets", cacher.sets)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 client call before cache warm, got %d", client.calls)
	}

	second, err := svc.EmbedQuery(context.Background(), "congés payés")
	if err != nil {
		t.Fatalf("EmbedQuery() with cache hit error: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected client not to be called again on cache hit, got %d total calls", client.calls)
	}
	if len(second) != len(first) {
		t.Errorf("cached vector diverges from original: %d vs %d dims", len(second), len(first))
	}
}

func TestEmbedQuery_NoCacheAlwaysCallsClient(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0)

	if _, err := svc.EmbedQuery(context.Background(), "question"); err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if _, err := svc.EmbedQuery(context.Background(), "question"); err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 client calls without a cache attached, got %d", client.calls)
	}
}

func TestEmbed_ExactBatchBoundary(t *testing.T) {
	client := &mockEmbeddingClient{}
	svc := NewEmbedderService(client, 0)

	texts := make([]string, 96)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	vectors, err := svc.Embed(context.Background(), texts, RolePassage)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(vectors) != 96 {
		t.Errorf("expected 96 vectors, got %d", len(vectors))
	}
	if client.calls != 1 {
		t.Errorf("expected 1 API call for 96 texts, got %d", client.calls)
	}
}
