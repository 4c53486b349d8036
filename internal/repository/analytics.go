package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// AnalyticsRepository is a read-only view over conversation_stats. Grounded
// in the teacher's kb_health/usage services, which aggregated read-model
// style stats with the same repository+pgx idiom this replaces (§4.11); the
// materialised view does the aggregation, this repository only refreshes
// and reads it.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates an AnalyticsRepository.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

// ConversationStats returns the current stats row for one conversation, or
// nil if the view has no row for it yet (a brand new conversation before the
// next refresh).
func (r *AnalyticsRepository) ConversationStats(ctx context.Context, conversationID string) (*model.ConversationStats, error) {
	var s model.ConversationStats
	err := r.pool.QueryRow(ctx, `
		SELECT conversation_id, message_count, thumbs_up_count, thumbs_down_count, last_message_at
		FROM conversation_stats WHERE conversation_id = $1`, conversationID,
	).Scan(&s.ConversationID, &s.MessageCount, &s.ThumbsUpCount, &s.ThumbsDownCount, &s.LastMessageAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.ConversationStats: %w", err)
	}
	return &s, nil
}

// TopByThumbsDown returns the conversations with the most negative ratings,
// for surfacing to an admin quality-review surface.
func (r *AnalyticsRepository) TopByThumbsDown(ctx context.Context, limit int) ([]model.ConversationStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, message_count, thumbs_up_count, thumbs_down_count, last_message_at
		FROM conversation_stats
		WHERE thumbs_down_count > 0
		ORDER BY thumbs_down_count DESC, message_count DESC
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.TopByThumbsDown: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationStats
	for rows.Next() {
		var s model.ConversationStats
		if err := rows.Scan(&s.ConversationID, &s.MessageCount, &s.ThumbsUpCount, &s.ThumbsDownCount, &s.LastMessageAt); err != nil {
			return nil, fmt.Errorf("repository.TopByThumbsDown: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Refresh recomputes the materialised view. CONCURRENTLY avoids holding a
// lock that would block readers, at the cost of requiring the unique index
// already created in the migration.
func (r *AnalyticsRepository) Refresh(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY conversation_stats`)
	if err != nil {
		return fmt.Errorf("repository.Refresh: %w", err)
	}
	return nil
}
