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

// MessageRepository implements service.MessageRepo and
// service.MessageLookupRepo against the messages table. message_count on
// the parent conversation is maintained by the messages_count_trigger, so
// Create never touches conversations directly.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

var (
	_ service.MessageRepo       = (*MessageRepository)(nil)
	_ service.MessageLookupRepo = (*MessageRepository)(nil)
)

// Create persists a new message. Messages are append-only: a regenerated
// answer is a new row linked via ParentMessageID, never an update.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sourcesJSON, err := marshalSources(msg.Sources)
	if err != nil {
		return fmt.Errorf("repository.Create: marshal sources: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO messages (
			id, conversation_id, role, content, sources, provider, model,
			prompt_tokens, completion_tokens, parent_message_id, warning, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, sourcesJSON, nullIfEmpty(msg.Provider), nullIfEmpty(msg.Model),
		msg.TokensPrompt, msg.TokensReply, msg.ParentMessageID, msg.Warning, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

// GetByID implements service.MessageLookupRepo.
func (r *MessageRepository) GetByID(ctx context.Context, messageID string) (*model.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, sources, provider, model,
			prompt_tokens, completion_tokens, parent_message_id, warning, created_at
		FROM messages WHERE id = $1`, messageID,
	)
	msg, err := scanMessageRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	return &msg, nil
}

// PrecedingUserMessage finds the user turn immediately before messageID in
// the same conversation, the question the analyser's classifier prompt
// needs alongside the rated answer.
func (r *MessageRepository) PrecedingUserMessage(ctx context.Context, messageID string) (*model.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, sources, provider, model,
			prompt_tokens, completion_tokens, parent_message_id, warning, created_at
		FROM messages
		WHERE conversation_id = (SELECT conversation_id FROM messages WHERE id = $1)
			AND role = 'user'
			AND created_at < (SELECT created_at FROM messages WHERE id = $1)
		ORDER BY created_at DESC LIMIT 1`, messageID,
	)
	msg, err := scanMessageRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.PrecedingUserMessage: %w", err)
	}
	return &msg, nil
}

// scanRow is satisfied by both pgx.Row and pgx.Rows.
type scanRow interface {
	Scan(dest ...any) error
}

func scanMessageRow(row scanRow) (model.Message, error) {
	var m model.Message
	var role string
	var sourcesRaw []byte
	var provider, modelName *string
	err := row.Scan(
		&m.ID, &m.ConversationID, &role, &m.Content, &sourcesRaw, &provider, &modelName,
		&m.TokensPrompt, &m.TokensReply, &m.ParentMessageID, &m.Warning, &m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}
	m.Role = model.MessageRole(role)
	if provider != nil {
		m.Provider = *provider
	}
	if modelName != nil {
		m.Model = *modelName
	}
	if len(sourcesRaw) > 0 {
		if err := json.Unmarshal(sourcesRaw, &m.Sources); err != nil {
			return model.Message{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	return m, nil
}

// scanMessage adapts scanMessageRow to pgx.Rows during a multi-row iteration.
func scanMessage(rows pgx.Rows) (model.Message, error) {
	return scanMessageRow(rows)
}

func marshalSources(sources []model.Source) ([]byte, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	return json.Marshal(sources)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RatingRepository implements service.RatingRepo and the write side of
// message ratings (thumbs up/down). A second submission for the same
// message updates the existing row rather than creating a duplicate, per
// the UNIQUE constraint on message_ratings.message_id.
type RatingRepository struct {
	pool *pgxpool.Pool
}

// NewRatingRepository creates a RatingRepository.
func NewRatingRepository(pool *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{pool: pool}
}

var _ service.RatingRepo = (*RatingRepository)(nil)

// Upsert records a rating, notifying thumbs_down_created on a fresh or
// updated negative rating so the analyser worker picks it up (§4.9).
func (r *RatingRepository) Upsert(ctx context.Context, rating *model.MessageRating) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.Upsert: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if rating.CreatedAt.IsZero() {
		rating.CreatedAt = now
	}
	rating.UpdatedAt = now

	err = tx.QueryRow(ctx, `
		INSERT INTO message_ratings (id, message_id, user_id, rating, feedback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET rating = $4, feedback = $5, updated_at = $7
		RETURNING id`,
		rating.ID, rating.MessageID, rating.UserID, rating.Rating, rating.Feedback, rating.CreatedAt, rating.UpdatedAt,
	).Scan(&rating.ID)
	if err != nil {
		return fmt.Errorf("repository.Upsert: %w", err)
	}

	if rating.Rating < 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_notify('thumbs_down_created', $1)`, rating.ID); err != nil {
			return fmt.Errorf("repository.Upsert: notify: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.Upsert: commit: %w", err)
	}
	return nil
}

// GetByID implements service.RatingRepo.
func (r *RatingRepository) GetByID(ctx context.Context, ratingID string) (*model.MessageRating, error) {
	var rt model.MessageRating
	err := r.pool.QueryRow(ctx, `
		SELECT id, message_id, user_id, rating, feedback, created_at, updated_at
		FROM message_ratings WHERE id = $1`, ratingID,
	).Scan(&rt.ID, &rt.MessageID, &rt.UserID, &rt.Rating, &rt.Feedback, &rt.CreatedAt, &rt.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	return &rt, nil
}

// ValidationRepository implements service.ValidationRepo against
// thumbs_down_validations, keyed idempotently by rating_id.
type ValidationRepository struct {
	pool *pgxpool.Pool
}

// NewValidationRepository creates a ValidationRepository.
func NewValidationRepository(pool *pgxpool.Pool) *ValidationRepository {
	return &ValidationRepository{pool: pool}
}

var _ service.ValidationRepo = (*ValidationRepository)(nil)

// Upsert implements service.ValidationRepo: re-running the classifier for a
// rating (e.g. the periodic sweep retrying a worker crash) overwrites the
// prior classification rather than duplicating it.
func (r *ValidationRepository) Upsert(ctx context.Context, v *model.ThumbsDownValidation) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO thumbs_down_validations (id, rating_id, classification, confidence, rationale, needs_admin_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rating_id) DO UPDATE SET
			classification = $3, confidence = $4, rationale = $5, needs_admin_review = $6`,
		v.ID, v.RatingID, string(v.AIClassification), v.Confidence, v.Rationale, v.NeedsAdminReview, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Upsert: %w", err)
	}
	return nil
}

// RatingIDsMissingValidation backs the periodic sweep: negative ratings
// with no corresponding validation row, oldest first.
func (r *ValidationRepository) RatingIDsMissingValidation(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT mr.id FROM message_ratings mr
		LEFT JOIN thumbs_down_validations v ON v.rating_id = mr.id
		WHERE mr.rating = -1 AND v.id IS NULL
		ORDER BY mr.created_at LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.RatingIDsMissingValidation: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository.RatingIDsMissingValidation: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
