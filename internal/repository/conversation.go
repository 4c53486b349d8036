package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// ConversationRepository implements service.ConversationRepo and
// service.ConversationHistoryRepo. Adapted from the teacher's session.go,
// which kept a session summary per conversation; here the equivalent state
// is the cached-topic pair read/written by the context builder (§4.7).
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

var (
	_ service.ConversationRepo        = (*ConversationRepository)(nil)
	_ service.ConversationHistoryRepo = (*ConversationRepository)(nil)
)

// Create inserts a new conversation.
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title, provider, use_tools, reranking_enabled, universe_id, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		conv.ID, conv.UserID, conv.Title, conv.Provider, conv.UseTools, conv.RerankingEnabled, conv.UniverseID, conv.Archived, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

// GetByID implements service.ConversationRepo.
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, provider, use_tools, reranking_enabled, universe_id,
			archived, message_count, cached_topic, cached_topic_at, created_at, updated_at
		FROM conversations WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.UserID, &c.Title, &c.Provider, &c.UseTools, &c.RerankingEnabled, &c.UniverseID,
		&c.Archived, &c.MessageCount, &c.CachedTopic, &c.CachedTopicAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	return &c, nil
}

// UpdateCachedTopic implements service.ConversationRepo's write side of the
// topic cache (§4.7): only rewritten on a detected topic shift.
func (r *ConversationRepository) UpdateCachedTopic(ctx context.Context, id string, topic string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET cached_topic = $1, cached_topic_at = $2, updated_at = $2 WHERE id = $3`,
		topic, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateCachedTopic: %w", err)
	}
	return nil
}

// ListByUser lists a user's non-archived conversations, newest first.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, provider, use_tools, reranking_enabled, universe_id,
			archived, message_count, cached_topic, cached_topic_at, created_at, updated_at
		FROM conversations WHERE user_id = $1 AND archived = false
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Title, &c.Provider, &c.UseTools, &c.RerankingEnabled, &c.UniverseID,
			&c.Archived, &c.MessageCount, &c.CachedTopic, &c.CachedTopicAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository.ListByUser: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Archive soft-hides a conversation from ListByUser.
func (r *ConversationRepository) Archive(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET archived = true, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository.Archive: %w", err)
	}
	return nil
}

// LastMessages implements service.ConversationHistoryRepo: the n most
// recent messages, returned oldest-first for prompt assembly.
func (r *ConversationRepository) LastMessages(ctx context.Context, conversationID string, n int) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sources, provider, model,
			prompt_tokens, completion_tokens, parent_message_id, warning, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC LIMIT $2`, conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.LastMessages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.LastMessages: scan: %w", err)
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CitedSources implements service.ConversationHistoryRepo: every source
// cited anywhere in the conversation so far, for topic/context derivation.
func (r *ConversationRepository) CitedSources(ctx context.Context, conversationID string) ([]model.Source, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sources FROM messages
		WHERE conversation_id = $1 AND role = 'assistant' AND sources IS NOT NULL
		ORDER BY created_at`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.CitedSources: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("repository.CitedSources: scan: %w", err)
		}
		var sources []model.Source
		if err := json.Unmarshal(raw, &sources); err != nil {
			continue
		}
		out = append(out, sources...)
	}
	return out, nil
}
