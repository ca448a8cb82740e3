package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/execution-hub/bizrules/internal/domain/audit"
)

// Service handles audit log operations
type Service struct {
	repo    audit.Repository
	logger  zerolog.Logger
	signKey []byte
	pending sync.WaitGroup
}

// NewService creates a new audit service
func NewService(repo audit.Repository, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		repo:    repo,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// Log creates a new audit event asynchronously. Failures are logged, never returned.
func (s *Service) Log(ctx context.Context, entry *audit.Entry) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.LogSync(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Error().Err(err).
				Str("entityType", string(entry.EntityType)).
				Str("entityId", entry.EntityID).
				Str("action", string(entry.Action)).
				Msg("failed to create audit event")
		}
	}()
}

// Wait blocks until every asynchronous Log call has been written.
func (s *Service) Wait() {
	s.pending.Wait()
}

// LogSync creates a new audit event synchronously
func (s *Service) LogSync(ctx context.Context, entry *audit.Entry) error {
	event, err := audit.NewEvent(entry)
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}

	if len(s.signKey) > 0 {
		sig, err := audit.Sign(event, s.signKey)
		if err != nil {
			return fmt.Errorf("failed to sign audit event: %w", err)
		}
		event.Signature = sig
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}

	s.logger.Debug().
		Str("eventId", event.EventID.String()).
		Str("entityType", string(event.EntityType)).
		Str("entityId", event.EntityID).
		Str("action", string(event.Action)).
		Str("actor", event.Actor).
		Msg("audit event created")

	if event.Action == audit.ActionBreach {
		s.logger.Warn().
			Str("entityId", event.EntityID).
			Str("actor", event.Actor).
			Msg("sla breach recorded")
	}
	return nil
}

// History retrieves the complete audit history for an entity
func (s *Service) History(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.Event, error) {
	events, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("entityType", string(entityType)).
			Str("entityId", entityID).
			Msg("failed to get entity history")
		return nil, fmt.Errorf("failed to get entity history: %w", err)
	}
	return events, nil
}

// Verify checks an event signature against the service key. Unsigned services report
// false.
func (s *Service) Verify(event *audit.Event) (bool, error) {
	if len(s.signKey) == 0 {
		return false, nil
	}
	ok, err := audit.Verify(event, s.signKey)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warn().
			Str("eventId", event.EventID.String()).
			Msg("audit event signature mismatch")
	}
	return ok, nil
}
