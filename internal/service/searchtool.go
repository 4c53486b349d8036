package service

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/tools"
)

// SearchResultItem is one entry of the search_knowledge_base tool's result,
// shaped as spec.md §4.8 requires: {source, similarity, preview}, plus the
// page number and section titles needed to build a fully attributed Source.
type SearchResultItem struct {
	ChunkID        string   `json:"chunkId"`
	DocumentTitle  string   `json:"source"`
	Similarity     float64  `json:"similarity"`
	ContentPreview string   `json:"preview"`
	PageNumber     *int     `json:"pageNumber,omitempty"`
	SectionTitles  []string `json:"sectionTitles,omitempty"`
}

// SearchKnowledgeBaseTool adapts RetrieverService to tools.Tool: the single
// tool the RAG orchestrator offers the model (§4.8).
type SearchKnowledgeBaseTool struct {
	retriever       *RetrieverService
	universeID      *string
	excludeChunkIDs []string
	hierarchical    bool
	rerankEnabled   bool
	returnK         int
	alphaAuto       bool
	alpha           float64
}

// NewSearchKnowledgeBaseTool creates a SearchKnowledgeBaseTool scoped to one
// request's universe/blacklist/reranking configuration. A fresh instance is
// built per orchestrator call, since scoping varies per conversation.
func NewSearchKnowledgeBaseTool(retriever *RetrieverService, universeID *string, excludeChunkIDs []string, hierarchical, rerankEnabled bool, returnK int, alphaAuto bool, alpha float64) *SearchKnowledgeBaseTool {
	return &SearchKnowledgeBaseTool{
		retriever:       retriever,
		universeID:      universeID,
		excludeChunkIDs: excludeChunkIDs,
		hierarchical:    hierarchical,
		rerankEnabled:   rerankEnabled,
		returnK:         returnK,
		alphaAuto:       alphaAuto,
		alpha:           alpha,
	}
}

// Execute implements tools.Tool.
func (t *SearchKnowledgeBaseTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.ToolResult, error) {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return nil, tools.NewValidationError("search_knowledge_base", "missing required field 'query'")
	}

	result, err := t.retriever.Retrieve(ctx, RetrieveParams{
		Query:           query,
		Alpha:           t.alpha,
		AlphaAuto:       t.alphaAuto,
		K:               t.returnK,
		UniverseID:      t.universeID,
		ExcludeChunkIDs: t.excludeChunkIDs,
		Hierarchical:    t.hierarchical,
		RerankEnabled:   t.rerankEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("service.SearchKnowledgeBaseTool.Execute: %w", err)
	}

	items := make([]SearchResultItem, len(result.Chunks))
	for i, c := range result.Chunks {
		items[i] = SearchResultItem{
			ChunkID:        c.Chunk.ID,
			DocumentTitle:  c.Document.Title,
			Similarity:     c.Similarity,
			ContentPreview: truncatePreview(c.Chunk.Content, model.MaxSourcePreviewChars),
			PageNumber:     c.Chunk.PageNumber,
			SectionTitles:  c.Chunk.SectionHierarchy,
		}
	}

	return &tools.ToolResult{Data: items}, nil
}

func truncatePreview(content string, maxChars int) string {
	r := []rune(content)
	if len(r) <= maxChars {
		return content
	}
	return string(r[:maxChars]) + "…"
}

var _ tools.Tool = (*SearchKnowledgeBaseTool)(nil)
