package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// NotificationRepository implements service.NotificationRepo against
// user_notifications. Notifications are surfaced passively (read on next
// login), not pushed, so there is no delivery worker to pair this with.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

var _ service.NotificationRepo = (*NotificationRepository)(nil)

// EnqueuePedagogical records a pedagogical notification for userID,
// triggered by a bad_question thumbs-down classification (§4.9).
func (r *NotificationRepository) EnqueuePedagogical(ctx context.Context, userID, messageID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_notifications (id, user_id, message_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, messageID, string(model.NotificationKindPedagogical), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.EnqueuePedagogical: %w", err)
	}
	return nil
}

// Unread lists a user's unread notifications, newest first.
func (r *NotificationRepository) Unread(ctx context.Context, userID string) ([]model.UserNotification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, message_id, kind, read_at, created_at
		FROM user_notifications WHERE user_id = $1 AND read_at IS NULL
		ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.Unread: %w", err)
	}
	defer rows.Close()

	var out []model.UserNotification
	for rows.Next() {
		var n model.UserNotification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &n.MessageID, &kind, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.Unread: scan: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		out = append(out, n)
	}
	return out, nil
}

// MarkRead marks a single notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_notifications SET read_at = $1 WHERE id = $2`, time.Now().UTC(), notificationID)
	if err != nil {
		return fmt.Errorf("repository.MarkRead: %w", err)
	}
	return nil
}
