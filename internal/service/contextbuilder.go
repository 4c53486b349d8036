package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/llmprovider"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// implicitReferenceMarkers are French words that signal a follow-up query
// referring back to the current topic rather than standing alone (§4.7).
var implicitReferenceMarkers = []string{"comment", "pourquoi", "et si", "ça", "la", "le", "les"}

// enrichmentTokenThreshold: a user message at or below this token count is
// treated as terse and a candidate for enrichment (§4.7).
const enrichmentTokenThreshold = 5

// exchangeHistoryDepth is how many past user+assistant exchanges the
// contextual system prompt compacts into its history section (§4.7).
const exchangeHistoryDepth = 3

// loadHistoryDepth is how many exchanges are loaded from storage, a superset
// of exchangeHistoryDepth kept for topic derivation (§4.7 step 1).
const loadHistoryDepth = 5

const baseSystemPromptTemplate = `Tu es un assistant qui répond aux questions en t'appuyant exclusivement sur les documents retrouvés via l'outil de recherche. Cite toujours tes sources. Si l'information n'est pas disponible dans les documents, dis-le clairement.`

// ConversationHistoryRepo loads past exchanges and cited sources for a
// conversation, the read side of the §4.7 context builder.
type ConversationHistoryRepo interface {
	LastMessages(ctx context.Context, conversationID string, n int) ([]model.Message, error)
	CitedSources(ctx context.Context, conversationID string) ([]model.Source, error)
}

// ConversationRepo reads and updates a conversation's cached topic.
type ConversationRepo interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	UpdateCachedTopic(ctx context.Context, id string, topic string) error
}

// BuiltContext is the contextbuilder's output: what the orchestrator
// actually sends to the model for this turn.
type BuiltContext struct {
	EnrichedQuery       string
	SystemPrompt        string
	Topic               string
	TopicShiftSuggested bool
}

// ContextBuilderService implements spec.md §4.7, re-targeting the teacher's
// SessionService (repo-backed, stateful-per-user aggregation) at
// per-conversation topic tracking instead of per-user learning sessions.
type ContextBuilderService struct {
	history       ConversationHistoryRepo
	conversations ConversationRepo
	llm           llmprovider.ChatClient
}

// NewContextBuilderService creates a ContextBuilderService.
func NewContextBuilderService(history ConversationHistoryRepo, conversations ConversationRepo, llm llmprovider.ChatClient) *ContextBuilderService {
	return &ContextBuilderService{history: history, conversations: conversations, llm: llm}
}

// Build runs the full §4.7 pipeline for one incoming user message: loads
// history, derives/reuses the cached topic, detects a topic shift, enriches
// terse queries, and assembles the contextual system prompt.
func (s *ContextBuilderService) Build(ctx context.Context, conversationID, rawQuery string) (*BuiltContext, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("service.ContextBuilderService.Build: load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("service.ContextBuilderService.Build: conversation %s not found", conversationID)
	}

	history, err := s.history.LastMessages(ctx, conversationID, loadHistoryDepth*2)
	if err != nil {
		return nil, fmt.Errorf("service.ContextBuilderService.Build: load history: %w", err)
	}

	sources, err := s.history.CitedSources(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("service.ContextBuilderService.Build: load cited sources: %w", err)
	}

	topic := conv.CachedTopic
	shiftSuggested := false
	if topic != "" && len(history) > 0 {
		onTopic, err := s.detectOnTopic(ctx, topic, rawQuery)
		if err != nil {
			slog.Warn("service.ContextBuilderService.Build: topic-shift detection failed, assuming on-topic", "error", err)
			onTopic = true
		}
		shiftSuggested = !onTopic
	}

	if topic == "" || shiftSuggested {
		derived, err := s.deriveTopic(ctx, history, rawQuery)
		if err != nil {
			slog.Warn("service.ContextBuilderService.Build: topic derivation failed, keeping previous topic", "error", err)
		} else {
			topic = derived
			if err := s.conversations.UpdateCachedTopic(ctx, conversationID, topic); err != nil {
				slog.Warn("service.ContextBuilderService.Build: failed to persist cached topic", "error", err)
			}
		}
	}

	enrichedQuery := rawQuery
	if needsEnrichment(rawQuery) && topic != "" {
		rewritten, err := s.enrichQuery(ctx, topic, history, rawQuery)
		if err != nil {
			slog.Warn("service.ContextBuilderService.Build: query enrichment failed, using raw query", "error", err)
		} else {
			enrichedQuery = rewritten
		}
	}

	systemPrompt := buildSystemPrompt(topic, history, sources)

	return &BuiltContext{
		EnrichedQuery:       enrichedQuery,
		SystemPrompt:        systemPrompt,
		Topic:               topic,
		TopicShiftSuggested: shiftSuggested,
	}, nil
}

// needsEnrichment implements §4.7's enrichment trigger: a message of at
// most enrichmentTokenThreshold whitespace tokens, or one beginning with a
// French implicit-reference marker.
func needsEnrichment(query string) bool {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return false
	}
	tokens := strings.Fields(trimmed)
	if len(tokens) <= enrichmentTokenThreshold {
		return true
	}
	first := strings.ToLower(strings.Trim(tokens[0], ".,;:!?'\""))
	lower := strings.ToLower(trimmed)
	for _, marker := range implicitReferenceMarkers {
		if first == marker || strings.HasPrefix(lower, marker+" ") {
			return true
		}
	}
	return false
}

func (s *ContextBuilderService) deriveTopic(ctx context.Context, history []model.Message, rawQuery string) (string, error) {
	messages := []llmprovider.Message{
		{Role: "system", Content: "Résume en 3 à 5 mots le sujet principal de cet échange. Réponds uniquement par le sujet, sans ponctuation finale."},
	}
	messages = append(messages, historyAsLLMMessages(history)...)
	messages = append(messages, llmprovider.Message{Role: "user", Content: rawQuery})

	result, err := s.llm.ChatComplete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("service.ContextBuilderService.deriveTopic: %w", err)
	}
	return strings.TrimSpace(result.Content), nil
}

func (s *ContextBuilderService) detectOnTopic(ctx context.Context, topic, rawQuery string) (bool, error) {
	messages := []llmprovider.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Le sujet actuel de la conversation est : %q. Le nouveau message de l'utilisateur reste-t-il sur ce sujet ? Réponds uniquement par OUI ou NON.", topic)},
		{Role: "user", Content: rawQuery},
	}
	result, err := s.llm.ChatComplete(ctx, messages)
	if err != nil {
		return true, fmt.Errorf("service.ContextBuilderService.detectOnTopic: %w", err)
	}
	answer := strings.ToUpper(strings.TrimSpace(result.Content))
	return strings.HasPrefix(answer, "OUI"), nil
}

func (s *ContextBuilderService) enrichQuery(ctx context.Context, topic string, history []model.Message, rawQuery string) (string, error) {
	messages := []llmprovider.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Le sujet actuel est : %q. Reformule la question suivante en une question autonome et explicite qui mentionne ce sujet, sans changer son sens. Réponds uniquement par la question reformulée.", topic)},
	}
	messages = append(messages, historyAsLLMMessages(history)...)
	messages = append(messages, llmprovider.Message{Role: "user", Content: rawQuery})

	result, err := s.llm.ChatComplete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("service.ContextBuilderService.enrichQuery: %w", err)
	}
	rewritten := strings.TrimSpace(result.Content)
	if rewritten == "" {
		return rawQuery, nil
	}
	return rewritten, nil
}

func historyAsLLMMessages(history []model.Message) []llmprovider.Message {
	out := make([]llmprovider.Message, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == model.MessageRoleAssistant {
			role = "assistant"
		}
		out = append(out, llmprovider.Message{Role: role, Content: m.Content})
	}
	return out
}

// buildSystemPrompt assembles the contextual system prompt §4.7 describes:
// base template + current topic + last three exchanges (preview) + cited
// documents. Each turn is a fresh single-message prompt, never raw history.
func buildSystemPrompt(topic string, history []model.Message, sources []model.Source) string {
	var b strings.Builder
	b.WriteString(baseSystemPromptTemplate)

	if topic != "" {
		fmt.Fprintf(&b, "\n\nSujet actuel de la conversation : %s", topic)
	}

	recent := history
	if len(recent) > exchangeHistoryDepth*2 {
		recent = recent[len(recent)-exchangeHistoryDepth*2:]
	}
	if len(recent) > 0 {
		b.WriteString("\n\nDerniers échanges :")
		for _, m := range recent {
			fmt.Fprintf(&b, "\n- %s : %s", m.Role, preview(m.Content, 150))
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n\nDocuments déjà cités dans cette conversation :")
		seen := make(map[string]bool)
		for _, src := range sources {
			if seen[src.DocumentTitle] {
				continue
			}
			seen[src.DocumentTitle] = true
			fmt.Fprintf(&b, "\n- %s", src.DocumentTitle)
		}
	}

	return b.String()
}

func preview(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "…"
}
