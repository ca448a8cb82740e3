package memory

import (
	"context"
	"sync"

	"github.com/execution-hub/bizrules/internal/domain/notification"
)

// NotificationInbox keeps every sent notification, newest last.
type NotificationInbox struct {
	mu    sync.RWMutex
	items []*notification.Notification
}

func NewNotificationInbox() *NotificationInbox {
	return &NotificationInbox{}
}

func (b *NotificationInbox) Send(_ context.Context, n *notification.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, clone(n))
	return nil
}

// ListForUser returns up to limit notifications for userID, newest first.
func (b *NotificationInbox) ListForUser(_ context.Context, userID string, limit int) ([]*notification.Notification, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*notification.Notification
	for i := len(b.items) - 1; i >= 0 && len(out) < limit; i-- {
		if b.items[i].UserID == userID {
			out = append(out, clone(b.items[i]))
		}
	}
	return out, nil
}
