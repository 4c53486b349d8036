package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
)

// LLMGenerator adapts llmprovider.ChatClient to the Generator interface the
// Self-RAG reflection loop regenerates against, inlining chunk content the
// same way runSinglePass does.
type LLMGenerator struct {
	llm          llmprovider.ChatClient
	systemPrompt string
	modelName    string
}

// NewLLMGenerator creates a Generator backed by an LLM chat client.
// modelName is recorded on each GenerationResult for audit logging; pass
// the same model string used to configure llm.
func NewLLMGenerator(llm llmprovider.ChatClient, systemPrompt, modelName string) *LLMGenerator {
	return &LLMGenerator{llm: llm, systemPrompt: systemPrompt, modelName: modelName}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, query string, chunks []RankedChunk, opts GenerateOpts) (*GenerationResult, error) {
	var inlined strings.Builder
	citations := make([]CitationRef, 0, len(chunks))
	var simSum float64

	for i, c := range chunks {
		fmt.Fprintf(&inlined, "\n\n[%d] %s", i+1, c.Chunk.Content)
		citations = append(citations, CitationRef{
			Index:      i + 1,
			ChunkID:    c.Chunk.ID,
			DocumentID: c.Chunk.DocumentID,
			Excerpt:    c.Chunk.Content,
			Relevance:  c.Similarity,
		})
		simSum += c.Similarity
	}

	confidence := 0.5
	if len(chunks) > 0 {
		confidence = simSum / float64(len(chunks))
	}

	messages := []llmprovider.Message{
		{Role: "system", Content: g.systemPrompt},
		{Role: "user", Content: query + "\n\nExtraits pertinents :" + inlined.String()},
	}

	result, err := g.llm.ChatComplete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("service.LLMGenerator: %w", err)
	}

	return &GenerationResult{
		Answer:     result.Content,
		Citations:  citations,
		Confidence: confidence,
		ModelUsed:  g.modelName,
	}, nil
}
