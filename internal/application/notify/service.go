package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/execution-hub/bizrules/internal/domain/notification"
)

// Service fans notifications out to every configured sink. Delivery is best-effort:
// sink errors are logged and never returned to the caller.
type Service struct {
	sinks  []notification.Sink
	logger zerolog.Logger
}

// NewService creates a notification fan-out service
func NewService(logger zerolog.Logger, sinks ...notification.Sink) *Service {
	return &Service{
		sinks:  sinks,
		logger: logger.With().Str("service", "notify").Logger(),
	}
}

// Notify delivers n to every sink.
func (s *Service) Notify(ctx context.Context, n *notification.Notification) {
	if n == nil || n.UserID == "" {
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, n); err != nil {
			s.logger.Warn().Err(err).
				Str("userId", n.UserID).
				Str("type", string(n.Type)).
				Str("entityId", n.EntityID).
				Msg("notification delivery failed")
		}
	}
}

// NotifyUsers delivers a copy of tmpl to each distinct user id and returns the ids
// notified.
func (s *Service) NotifyUsers(ctx context.Context, userIDs []string, tmpl *notification.Notification) []string {
	seen := make(map[string]bool, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		s.Notify(ctx, tmpl.Clone(id))
		out = append(out, id)
	}
	return out
}
