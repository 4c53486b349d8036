package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/tools"
)

// maxToolLoopIterations bounds the tool round-trip loop (§4.8 edge cases).
const maxToolLoopIterations = 3

// maxCumulativeTokenBudget bounds total prompt+completion tokens spent
// across one orchestration call before the loop is aborted (§4.8).
const maxCumulativeTokenBudget = 16000

const searchToolName = "search_knowledge_base"

// MessageRepo persists conversation messages.
type MessageRepo interface {
	Create(ctx context.Context, msg *model.Message) error
}

// BlacklistRepo resolves chunk ids excluded from retrieval for a universe.
type BlacklistRepo interface {
	BlacklistedChunkIDs(ctx context.Context, universeID *string) ([]string, error)
}

// OrchestrateParams is the input to one orchestration turn (§4.8).
type OrchestrateParams struct {
	ConversationID   string
	UserMessage      string
	UseTools         bool
	RerankPreference *bool // overrides the conversation's stored preference for this turn
}

// OrchestrateResult is the final answer plus its sanitised sources.
type OrchestrateResult struct {
	Answer  string
	Sources []model.Source
	Warning string
}

// orchestratorLoopState names the tool-loop state machine of §4.8's DESIGN
// NOTES: await-model, await-tool, finalised, aborted.
type orchestratorLoopState string

const (
	stateAwaitModel orchestratorLoopState = "await-model"
	stateAwaitTool  orchestratorLoopState = "await-tool"
	stateFinalised  orchestratorLoopState = "finalised"
	stateAborted    orchestratorLoopState = "aborted"
)

// OrchestratorService drives one conversational turn: persist the user
// message, build context, run the tool loop against the LLM, and persist a
// sanitised assistant message. Grounded in the teacher's GeneratorService
// (system/user prompt assembly, GenAIClient abstraction) generalised into
// an explicit tool-loop state machine wired to tools.ToolExecutor.
type OrchestratorService struct {
	messages      MessageRepo
	conversations ConversationRepo
	blacklist     BlacklistRepo
	contextBuilder *ContextBuilderService
	retriever     *RetrieverService
	llm           llmprovider.ChatClient
	rerankDefault bool
	returnK       int
	alphaAuto     bool
	alpha         float64
	hierarchical  bool
	selfRAG       *SelfRAGService // optional: nil disables reflection/silence protocol
}

// NewOrchestratorService creates an OrchestratorService.
func NewOrchestratorService(
	messages MessageRepo,
	conversations ConversationRepo,
	blacklist BlacklistRepo,
	contextBuilder *ContextBuilderService,
	retriever *RetrieverService,
	llm llmprovider.ChatClient,
	rerankDefault bool,
	returnK int,
	alphaAuto bool,
	alpha float64,
	hierarchical bool,
	selfRAG *SelfRAGService,
) *OrchestratorService {
	return &OrchestratorService{
		messages:       messages,
		conversations:  conversations,
		blacklist:      blacklist,
		contextBuilder: contextBuilder,
		retriever:      retriever,
		llm:            llm,
		rerankDefault:  rerankDefault,
		returnK:        returnK,
		alphaAuto:      alphaAuto,
		alpha:          alpha,
		hierarchical:   hierarchical,
		selfRAG:        selfRAG,
	}
}

// Orchestrate runs one full turn per spec.md §4.8.
func (s *OrchestratorService) Orchestrate(ctx context.Context, p OrchestrateParams) (*OrchestrateResult, error) {
	if p.UserMessage == "" {
		return nil, fmt.Errorf("service.Orchestrate: user message is empty")
	}

	if err := s.messages.Create(ctx, &model.Message{
		ConversationID: p.ConversationID,
		Role:           model.MessageRoleUser,
		Content:        p.UserMessage,
	}); err != nil {
		return nil, fmt.Errorf("service.Orchestrate: persist user message: %w", err)
	}

	conv, err := s.conversations.GetByID(ctx, p.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("service.Orchestrate: load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("service.Orchestrate: conversation %s not found", p.ConversationID)
	}

	built, err := s.contextBuilder.Build(ctx, p.ConversationID, p.UserMessage)
	if err != nil {
		return nil, fmt.Errorf("service.Orchestrate: build context: %w", err)
	}

	rerankEnabled := s.rerankDefault
	if conv.RerankingEnabled != nil {
		rerankEnabled = *conv.RerankingEnabled
	}
	if p.RerankPreference != nil {
		rerankEnabled = *p.RerankPreference
	}

	var excludeChunkIDs []string
	if s.blacklist != nil {
		excludeChunkIDs, err = s.blacklist.BlacklistedChunkIDs(ctx, conv.UniverseID)
		if err != nil {
			slog.Warn("service.Orchestrate: blacklist lookup failed, proceeding unfiltered", "error", err)
		}
	}

	tool := NewSearchKnowledgeBaseTool(s.retriever, conv.UniverseID, excludeChunkIDs, s.hierarchical, rerankEnabled, s.returnK, s.alphaAuto, s.alpha)
	executor := tools.NewToolExecutor()
	executor.Register(searchToolName, tool)

	var (
		answer       string
		sourcesByID  = make(map[string]model.Source)
		warning      string
	)

	if p.UseTools {
		answer, warning, err = s.runToolLoop(ctx, built, executor, sourcesByID)
		if err != nil {
			return nil, fmt.Errorf("service.Orchestrate: tool loop: %w", err)
		}
	} else {
		answer, err = s.runSinglePass(ctx, built, tool, sourcesByID)
		if err != nil {
			return nil, fmt.Errorf("service.Orchestrate: single pass: %w", err)
		}
	}

	sources := make([]model.Source, 0, len(sourcesByID))
	for _, src := range sourcesByID {
		sources = append(sources, src)
	}

	if s.selfRAG != nil && len(sources) > 0 {
		answer, warning = s.reflect(ctx, built.EnrichedQuery, answer, warning, sources)
	}

	if err := s.messages.Create(ctx, &model.Message{
		ConversationID: p.ConversationID,
		Role:           model.MessageRoleAssistant,
		Content:        answer,
		Sources:        sources,
		Warning:        warning,
	}); err != nil {
		return nil, fmt.Errorf("service.Orchestrate: persist assistant message: %w", err)
	}

	return &OrchestrateResult{Answer: answer, Sources: sources, Warning: warning}, nil
}

func searchToolDefinition() llmprovider.ToolDefinition {
	return llmprovider.ToolDefinition{
		Name:        searchToolName,
		Description: "Search the knowledge base for passages relevant to a query. Returns a list of {source, similarity, preview}.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query, as specific as possible.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// runToolLoop implements the await-model / await-tool state machine of
// §4.8's edge cases: at most maxToolLoopIterations round trips, aborted
// early on cumulative token budget exhaustion or context cancellation.
func (s *OrchestratorService) runToolLoop(ctx context.Context, built *BuiltContext, executor *tools.ToolExecutor, sourcesByID map[string]model.Source) (answer, warning string, err error) {
	messages := []llmprovider.Message{
		{Role: "system", Content: built.SystemPrompt},
		{Role: "user", Content: built.EnrichedQuery},
	}
	toolDefs := []llmprovider.ToolDefinition{searchToolDefinition()}

	state := stateAwaitModel
	cumulativeTokens := 0
	var lastContent string

	for iteration := 0; iteration < maxToolLoopIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			state = stateAborted
			break
		}

		result, callErr := s.llm.ChatCompleteWithTools(ctx, messages, toolDefs)
		if callErr != nil {
			return "", "", fmt.Errorf("service.runToolLoop: %w", callErr)
		}
		cumulativeTokens += result.PromptTokens + result.CompletionTokens
		lastContent = result.Content

		if len(result.ToolCalls) == 0 {
			state = stateFinalised
			break
		}

		state = stateAwaitTool
		messages = append(messages, llmprovider.Message{Role: "assistant", ToolCalls: result.ToolCalls})

		for _, call := range result.ToolCalls {
			var args struct {
				Query string `json:"query"`
			}
			_ = json.Unmarshal([]byte(call.Arguments), &args)

			toolResult, toolErr := executor.Execute(ctx, call.Name, map[string]interface{}{"query": args.Query})
			var toolContent string
			if toolErr != nil {
				toolContent = fmt.Sprintf("search failed: %v", toolErr)
			} else {
				items, _ := toolResult.Data.([]SearchResultItem)
				for _, item := range items {
					sourcesByID[item.ChunkID] = model.Source{
						ChunkID:        item.ChunkID,
						DocumentTitle:  item.DocumentTitle,
						Similarity:     item.Similarity,
						ContentPreview: item.ContentPreview,
						PageNumber:     item.PageNumber,
						SectionTitles:  item.SectionTitles,
					}
				}
				encoded, _ := json.Marshal(items)
				toolContent = string(encoded)
			}

			messages = append(messages, llmprovider.Message{
				Role:       "tool",
				Content:    toolContent,
				ToolCallID: call.ID,
			})
		}
		state = stateAwaitModel

		if cumulativeTokens >= maxCumulativeTokenBudget {
			state = stateAborted
			break
		}
	}

	if state != stateFinalised {
		warning = "réponse partielle : la boucle d'outils a été interrompue avant une réponse finale"
	}
	return lastContent, warning, nil
}

// runSinglePass implements §4.8's use_tools=false edge case: retrieval runs
// unconditionally before prompting and results are inlined in the prompt.
func (s *OrchestratorService) runSinglePass(ctx context.Context, built *BuiltContext, tool *SearchKnowledgeBaseTool, sourcesByID map[string]model.Source) (string, error) {
	toolResult, err := tool.Execute(ctx, map[string]interface{}{"query": built.EnrichedQuery})
	if err != nil {
		return "", fmt.Errorf("service.runSinglePass: retrieval: %w", err)
	}
	items, _ := toolResult.Data.([]SearchResultItem)

	var inlinedContext string
	for _, item := range items {
		sourcesByID[item.ChunkID] = model.Source{
			ChunkID:        item.ChunkID,
			DocumentTitle:  item.DocumentTitle,
			Similarity:     item.Similarity,
			ContentPreview: item.ContentPreview,
			PageNumber:     item.PageNumber,
			SectionTitles:  item.SectionTitles,
		}
		inlinedContext += fmt.Sprintf("\n\n[%s] %s", item.DocumentTitle, item.ContentPreview)
	}

	messages := []llmprovider.Message{
		{Role: "system", Content: built.SystemPrompt},
		{Role: "user", Content: built.EnrichedQuery + "\n\nExtraits pertinents :" + inlinedContext},
	}

	result, err := s.llm.ChatComplete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("service.runSinglePass: %w", err)
	}
	return result.Content, nil
}

// reflect runs the Self-RAG critique loop over one generation pass, dropping
// weakly-grounded citations and falling back to the silence protocol when
// confidence stays below threshold after every retry. Errors from the
// reflection loop are non-fatal: the original answer and warning are kept.
func (s *OrchestratorService) reflect(ctx context.Context, query, answer, warning string, sources []model.Source) (string, string) {
	chunks := make([]RankedChunk, 0, len(sources))
	citations := make([]CitationRef, 0, len(sources))
	var simSum float64

	for i, src := range sources {
		chunks = append(chunks, RankedChunk{
			Chunk:      model.Chunk{ID: src.ChunkID, Content: src.ContentPreview},
			Similarity: src.Similarity,
		})
		citations = append(citations, CitationRef{
			Index:     i + 1,
			ChunkID:   src.ChunkID,
			Excerpt:   src.ContentPreview,
			Relevance: src.Similarity,
		})
		simSum += src.Similarity
	}

	initial := &GenerationResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: simSum / float64(len(sources)),
	}

	reflection, err := s.selfRAG.Reflect(ctx, query, chunks, initial)
	if err != nil {
		slog.Warn("service.Orchestrate: self-rag reflection failed, keeping initial answer", "error", err)
		return answer, warning
	}

	if reflection.SilenceTriggered {
		silence := BuildSilenceResponse(reflection.FinalConfidence, query)
		return silence.Message, silence.Protocol
	}

	return reflection.FinalAnswer, warning
}
