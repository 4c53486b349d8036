package service

import (
	"context"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func TestLLMGenerator_Generate(t *testing.T) {
	llm := &mockChatClient{responses: []string{"La réponse générée."}}
	gen := NewLLMGenerator(llm, "system prompt", "test-model")

	chunks := []RankedChunk{
		{Chunk: model.Chunk{ID: "c1", Content: "extrait un"}, Similarity: 0.8},
		{Chunk: model.Chunk{ID: "c2", Content: "extrait deux"}, Similarity: 0.6},
	}

	result, err := gen.Generate(context.Background(), "question", chunks, GenerateOpts{Mode: "detailed"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if result.Answer != "La réponse générée." {
		t.Errorf("Answer = %q", result.Answer)
	}
	if len(result.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(result.Citations))
	}
	if result.Citations[0].ChunkID != "c1" || result.Citations[1].ChunkID != "c2" {
		t.Errorf("citations not in chunk order: %+v", result.Citations)
	}
	wantConfidence := (0.8 + 0.6) / 2.0
	if result.Confidence != wantConfidence {
		t.Errorf("Confidence = %f, want %f", result.Confidence, wantConfidence)
	}
}

func TestLLMGenerator_Generate_NoChunks(t *testing.T) {
	llm := &mockChatClient{responses: []string{"réponse"}}
	gen := NewLLMGenerator(llm, "system prompt", "test-model")

	result, err := gen.Generate(context.Background(), "question", nil, GenerateOpts{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if result.Confidence != 0.5 {
		t.Errorf("Confidence = %f, want 0.5 default", result.Confidence)
	}
	if len(result.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(result.Citations))
	}
}

func TestLLMGenerator_Generate_LLMError(t *testing.T) {
	llm := &mockChatClient{err: context.DeadlineExceeded}
	gen := NewLLMGenerator(llm, "system prompt", "test-model")

	_, err := gen.Generate(context.Background(), "question", nil, GenerateOpts{})
	if err == nil || !strings.Contains(err.Error(), "LLMGenerator") {
		t.Fatalf("expected wrapped LLMGenerator error, got %v", err)
	}
}
