package model

import "time"

// Conversation is a thread of messages between one user and the assistant.
type Conversation struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Title    string  `json:"title"`
	Provider string  `json:"provider"` // "mistral" | "chocolatine"
	UseTools bool    `json:"useTools"`

	// RerankingEnabled is a tri-state override: nil means "follow the global
	// RERANKER_ENABLED default", non-nil overrides it for this conversation.
	RerankingEnabled *bool `json:"rerankingEnabled,omitempty"`

	UniverseID *string `json:"universeId,omitempty"`
	Archived   bool    `json:"archived"`

	// MessageCount is maintained by a DB trigger on message insert, never
	// updated directly by application code.
	MessageCount int `json:"messageCount"`

	// CachedTopic and CachedTopicAt back the conversation context builder's
	// topic cache (§4.7); the topic is recomputed only on detected shift.
	CachedTopic   string     `json:"cachedTopic,omitempty"`
	CachedTopicAt *time.Time `json:"cachedTopicAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageRole is the speaker of a Message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Source is a sanitised attribution record attached to an assistant message.
// Full chunk content is never stored here — only a bounded preview
// (§4.8: "Never persist full chunk content verbatim in sources").
type Source struct {
	ChunkID         string  `json:"chunkId"`
	DocumentTitle   string  `json:"documentTitle"`
	Similarity      float64 `json:"similarity"`
	ContentPreview  string  `json:"contentPreview"`
	PageNumber      *int    `json:"pageNumber,omitempty"`
	SectionTitles   []string `json:"sectionTitles,omitempty"`
}

// MaxSourcePreviewChars bounds a Source's ContentPreview (§4.8).
const MaxSourcePreviewChars = 500

// Message is one turn of a Conversation. Messages are never mutated after
// creation; a regenerated answer creates a new Message linked via
// ParentMessageID rather than rewriting the original.
type Message struct {
	ID       string      `json:"id"`
	ConversationID string `json:"conversationId"`
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`

	// Sources is set only on assistant messages.
	Sources []Source `json:"sources,omitempty"`

	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	TokensPrompt int    `json:"tokensPrompt,omitempty"`
	TokensReply  int    `json:"tokensReply,omitempty"`

	ParentMessageID *string `json:"parentMessageId,omitempty"`

	// Warning is set when the orchestrator's tool loop terminated early
	// (iteration or token budget exceeded) and the answer is partial.
	Warning string `json:"warning,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// MessageRating is a user's thumbs up/down on one assistant Message.
// One rating per message; a second submission updates the existing row
// in place rather than creating a duplicate.
type MessageRating struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"` // -1 or +1
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationStats is the analytics read model's per-conversation row
// (§4.11), refreshed from a materialised view.
type ConversationStats struct {
	ConversationID  string     `json:"conversationId"`
	MessageCount    int        `json:"messageCount"`
	ThumbsUpCount   int        `json:"thumbsUpCount"`
	ThumbsDownCount int        `json:"thumbsDownCount"`
	LastMessageAt   *time.Time `json:"lastMessageAt,omitempty"`
}
