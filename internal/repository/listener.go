package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// PostgresListener implements service.NotificationListener over a single
// dedicated *pgx.Conn (never a pooled connection: LISTEN registers on the
// backend's session and must survive between WaitForNotification calls).
// Grounded in jackc/pgx's documented WaitForNotification idiom, the
// concrete counterpart to thumbsanalyser.go's interface.
type PostgresListener struct {
	conn *pgx.Conn
}

// NewPostgresListener dials its own connection to databaseURL, independent
// of the shared pgxpool used for everything else.
func NewPostgresListener(ctx context.Context, databaseURL string) (*PostgresListener, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository.NewPostgresListener: %w", err)
	}
	return &PostgresListener{conn: conn}, nil
}

var _ service.NotificationListener = (*PostgresListener)(nil)

// Listen registers this connection on channel via LISTEN.
func (l *PostgresListener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, fmt.Sprintf(`LISTEN %s`, pgx.Identifier{channel}.Sanitize()))
	if err != nil {
		return fmt.Errorf("repository.Listen: %w", err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on the listened
// channel, or ctx is cancelled.
func (l *PostgresListener) WaitForNotification(ctx context.Context) (string, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("repository.WaitForNotification: %w", err)
	}
	return n.Payload, nil
}

// Close releases the dedicated connection.
func (l *PostgresListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
