package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// rerankerTimeout bounds the cross-encoder round trip. A slow reranker must
// never block an answer; the caller falls back to fused order on timeout.
const rerankerTimeout = 4 * time.Second

// RerankerService scores (query, chunk) pairs with an external cross-encoder
// and returns candidates reordered by relevance (spec.md §4.6). Built in
// the teacher's BYOLLMClient idiom: a plain HTTP client with a bounded
// timeout, no SDK, errors classified through apperr so withRetry can act on
// transient failures.
type RerankerService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRerankerService creates a RerankerService. baseURL must point at an
// OpenAI-compatible or bespoke reranking endpoint accepting {query,
// documents} and returning per-document relevance scores.
func NewRerankerService(baseURL, apiKey string) *RerankerService {
	return &RerankerService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: rerankerTimeout,
		},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Rerank scores candidates against query and returns the top returnK,
// ordered by relevance score descending. Satisfies service.Reranker.
func (s *RerankerService) Rerank(ctx context.Context, query string, candidates []RankedChunk, returnK int) ([]RankedChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Chunk.Content
	}

	scored, err := withRetry(ctx, "RerankerService.Rerank", func() ([]RankedChunk, error) {
		return s.call(ctx, query, docs, candidates, returnK)
	})
	if err != nil {
		return nil, err
	}
	return scored, nil
}

func (s *RerankerService) call(ctx context.Context, query string, docs []string, candidates []RankedChunk, returnK int) ([]RankedChunk, error) {
	reqBody := rerankRequest{Query: query, Documents: docs, TopN: returnK}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("service.RerankerService.call: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("service.RerankerService.call: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("service.RerankerService.call: cancelled: %w", ctx.Err())
		}
		return nil, apperr.New(apperr.KindTransientExternal, "RerankerService.call", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("service.RerankerService.call: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, apperr.New(apperr.KindTransientExternal, "RerankerService.call",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("service.RerankerService.call: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("service.RerankerService.call: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("service.RerankerService.call: API error: %s", parsed.Error.Message)
	}

	out := make([]RankedChunk, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		score := r.RelevanceScore
		ranked := candidates[r.Index]
		ranked.RerankScore = &score
		out = append(out, ranked)
	}

	sort.Slice(out, func(i, j int) bool { return *out[i].RerankScore > *out[j].RerankScore })

	if returnK > 0 && len(out) > returnK {
		out = out[:returnK]
	}
	return out, nil
}

var _ Reranker = (*RerankerService)(nil)
