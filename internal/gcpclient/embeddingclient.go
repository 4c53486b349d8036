package gcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// embeddingTimeout bounds one batch round trip to the embedding service.
const embeddingTimeout = 20 * time.Second

// EmbeddingHTTPClient implements service.EmbeddingClient against the
// black-box embedding service named by spec.md §6 (addressed by
// EMBEDDING_SERVICE_URL, not a vendor SDK). Built in the same plain
// HTTP-client-with-timeout idiom as BYOLLMClient/RerankerService: POST a
// batch of texts, decode a batch of vectors, classify failures through
// withRetry for transient 429/503 responses.
type EmbeddingHTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewEmbeddingHTTPClient creates an EmbeddingHTTPClient pointed at baseURL.
func NewEmbeddingHTTPClient(baseURL string) *EmbeddingHTTPClient {
	return &EmbeddingHTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: embeddingTimeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedTexts implements service.EmbeddingClient.
func (c *EmbeddingHTTPClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, "embed_texts", func() ([][]float32, error) {
		return c.embedOnce(ctx, texts)
	})
}

func (c *EmbeddingHTTPClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: %w", err)
	}
	defer resp.Body.Close()

	if isRetryableStatus(resp.StatusCode) {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: %d rate limited", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gcpclient.EmbedTexts: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gcpclient.EmbedTexts: expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

var _ service.EmbeddingClient = (*EmbeddingHTTPClient)(nil)
