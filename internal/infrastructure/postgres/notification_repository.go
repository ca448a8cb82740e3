package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/notification"
)

// NotificationRepository implements notification.Inbox. Every notification sent through
// the notifier is appended here so users can read what they missed while offline.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Send(ctx context.Context, n *notification.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications
		(notification_id, user_id, type, priority, title, message, entity_type, entity_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (notification_id) DO NOTHING
	`, n.NotificationID, n.UserID, n.Type, n.Priority, n.Title, n.Message, n.EntityType, n.EntityID, n.Metadata, n.CreatedAt)
	return err
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT notification_id, user_id, type, priority, title, message, entity_type, entity_id, metadata, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	if err := row.Scan(&n.NotificationID, &n.UserID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&n.EntityType, &n.EntityID, &n.Metadata, &n.CreatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}
