package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_sink.go -package=mocks . Sink

import (
	"context"
)

// Sink accepts notifications for delivery. Implementations must not block on delivery
// confirmation.
type Sink interface {
	Send(ctx context.Context, n *Notification) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n *Notification) error

func (f SinkFunc) Send(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// Inbox is a Sink that keeps delivered notifications for later retrieval.
type Inbox interface {
	Sink
	ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}
