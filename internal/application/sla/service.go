package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/execution-hub/bizrules/internal/application/audit"
	"github.com/execution-hub/bizrules/internal/application/escalation"
	"github.com/execution-hub/bizrules/internal/application/notify"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	domainSLA "github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

const maxConflictRetries = 5

var ErrInvalidPolicy = errors.New("invalid sla policy")

// Service drives SLA trackers through their lifecycle.
type Service struct {
	policies   domainSLA.PolicyRepository
	trackers   domainSLA.TrackerRepository
	checks     domainSLA.CheckQueue
	tickets    ticket.Store
	dispatcher *escalation.Dispatcher
	notifier   *notify.Service
	auditSvc   *appAudit.Service
	now        func() time.Time
	logger     zerolog.Logger
}

// NewService creates a new SLA service
func NewService(
	policies domainSLA.PolicyRepository,
	trackers domainSLA.TrackerRepository,
	checks domainSLA.CheckQueue,
	tickets ticket.Store,
	dispatcher *escalation.Dispatcher,
	notifier *notify.Service,
	auditSvc *appAudit.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		policies:   policies,
		trackers:   trackers,
		checks:     checks,
		tickets:    tickets,
		dispatcher: dispatcher,
		notifier:   notifier,
		auditSvc:   auditSvc,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With().Str("service", "sla").Logger(),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreatePolicy validates and stores a policy.
func (s *Service) CreatePolicy(ctx context.Context, p *domainSLA.Policy) (*domainSLA.Policy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if len(p.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target is required", ErrInvalidPolicy)
	}
	if _, err := p.Calendar(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	for _, pc := range p.PauseConditions {
		if _, err := domainSLA.EvaluateCondition(pc.Expression, &ticket.Ticket{}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
	}
	now := s.now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.policies.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	s.logger.Info().Str("policyId", p.ID.String()).Str("name", p.Name).Msg("sla policy created")
	return p, nil
}

// GetPolicy retrieves a policy by id.
func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*domainSLA.Policy, error) {
	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domainSLA.ErrPolicyNotFound
	}
	return p, nil
}

// GetTracker retrieves the tracker of a ticket.
func (s *Service) GetTracker(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	tr, err := s.trackers.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, domainSLA.ErrTrackerNotFound
	}
	return tr, nil
}

// InitializeSLA resolves the ticket's policy, computes its targets and queues the check
// points. Initializing an already tracked ticket returns the existing tracker.
func (s *Service) InitializeSLA(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	tk, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	existing, err := s.trackers.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	candidates, err := s.policies.ListCandidates(ctx, tk.ContractID, tk.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	policy, err := domainSLA.Resolve(candidates, tk)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tr, err := domainSLA.NewTracker(tk, policy, now)
	if err != nil {
		return nil, err
	}
	if err := s.trackers.Create(ctx, tr); err != nil {
		if errors.Is(err, domainSLA.ErrVersionConflict) {
			return s.GetTracker(ctx, ticketID)
		}
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	s.schedule(ctx, tr)

	s.audit(ctx, ticketID, audit.ActionCreate, audit.SystemActor, map[string]any{
		"policyId":            policy.ID.String(),
		"priority":            tr.Priority,
		"firstResponseTarget": tr.FirstResponseTarget,
		"resolutionTarget":    tr.ResolutionTarget,
		"businessHoursOnly":   tr.BusinessHoursOnly,
	})
	s.logger.Info().
		Str("ticketId", ticketID).
		Str("policyId", policy.ID.String()).
		Time("firstResponseTarget", tr.FirstResponseTarget).
		Time("resolutionTarget", tr.ResolutionTarget).
		Msg("sla tracker initialized")

	if len(policy.PauseConditions) > 0 {
		return s.applyPauseConditions(ctx, tk, policy)
	}
	return tr, nil
}

// RecordFirstResponse stamps the first response. Repeated calls are no-ops.
func (s *Service) RecordFirstResponse(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	return s.record(ctx, ticketID, domainSLA.WindowFirstResponse)
}

// RecordResolution stamps the resolution. Repeated calls are no-ops.
func (s *Service) RecordResolution(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	return s.record(ctx, ticketID, domainSLA.WindowResolution)
}

func (s *Service) record(ctx context.Context, ticketID string, w domainSLA.Window) (*domainSLA.Tracker, error) {
	var (
		outcome domainSLA.Outcome
		closed  bool
	)
	tr, changed, err := s.mutate(ctx, ticketID, func(tr *domainSLA.Tracker) bool {
		closed = false
		if tr.Closed {
			return false
		}
		now := s.now()
		var ok bool
		outcome, ok = tr.Record(w, now)
		if !ok {
			return false
		}
		if tr.IsComplete() {
			closed = tr.Close(now)
		}
		return true
	})
	if err != nil || !changed {
		return tr, err
	}

	action := audit.ActionFirstResponse
	if w == domainSLA.WindowResolution {
		action = audit.ActionResolution
	}
	s.audit(ctx, ticketID, action, audit.SystemActor, map[string]any{
		"met":           outcome.Met,
		"actualMinutes": outcome.ActualMinutes,
	})
	s.logger.Info().
		Str("ticketId", ticketID).
		Str("window", string(w)).
		Bool("met", outcome.Met).
		Int("actualMinutes", outcome.ActualMinutes).
		Msg("sla event recorded")

	if outcome.Met && tr.AssigneeID != nil {
		s.notifier.Notify(ctx, notification.NewNotification(*tr.AssigneeID, notification.TypeSLAMet, notification.PriorityLow,
			"SLA target met", fmt.Sprintf("%s for ticket %s met its target in %d minutes", windowLabel(w), ticketID, outcome.ActualMinutes)).
			ForEntity("ticket", ticketID).
			WithMetadata(map[string]any{"window": string(w), "actualMinutes": outcome.ActualMinutes}))
	}
	if closed {
		s.afterClose(ctx, ticketID)
	}
	return tr, nil
}

// PauseSLA stops the clock. Pausing a paused or closed tracker is a no-op.
func (s *Service) PauseSLA(ctx context.Context, ticketID, reason string) (*domainSLA.Tracker, error) {
	tr, changed, err := s.mutate(ctx, ticketID, func(tr *domainSLA.Tracker) bool {
		return !tr.Closed && tr.Pause(reason, s.now())
	})
	if err != nil || !changed {
		return tr, err
	}
	s.audit(ctx, ticketID, audit.ActionPause, audit.SystemActor, map[string]any{"reason": reason})
	s.logger.Info().Str("ticketId", ticketID).Str("reason", reason).Msg("sla paused")
	return tr, nil
}

// ResumeSLA restarts the clock, shifts both targets by the pause length and reschedules
// the check points. Resuming a running tracker is a no-op.
func (s *Service) ResumeSLA(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	var paused time.Duration
	tr, changed, err := s.mutate(ctx, ticketID, func(tr *domainSLA.Tracker) bool {
		var ok bool
		paused, ok = tr.Resume(s.now())
		return ok
	})
	if err != nil || !changed {
		return tr, err
	}

	if _, err := s.checks.CancelPending(ctx, ticketID); err != nil {
		s.logger.Warn().Err(err).Str("ticketId", ticketID).Msg("failed to cancel pending checks")
	}
	if !tr.Closed {
		s.schedule(ctx, tr)
	}
	s.audit(ctx, ticketID, audit.ActionResume, audit.SystemActor, map[string]any{
		"pausedMinutes":       paused.Minutes(),
		"firstResponseTarget": tr.FirstResponseTarget,
		"resolutionTarget":    tr.ResolutionTarget,
	})
	s.logger.Info().Str("ticketId", ticketID).Dur("paused", paused).Msg("sla resumed")
	return tr, nil
}

// HandleStatusChanged reacts to a ticket status update. A resolved ticket records its
// resolution and stops being tracked. A closed ticket stops being tracked without a
// resolution. Other statuses are matched against the policy's pause conditions.
func (s *Service) HandleStatusChanged(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	tk, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !tk.Status.IsClosed() {
		return s.ApplyPauseConditions(ctx, ticketID)
	}

	if tk.Status == ticket.StatusResolved {
		if _, err := s.record(ctx, ticketID, domainSLA.WindowResolution); err != nil {
			return nil, err
		}
	}
	tr, changed, err := s.mutate(ctx, ticketID, func(tr *domainSLA.Tracker) bool {
		now := s.now()
		if tr.IsPaused() {
			tr.Resume(now)
		}
		return tr.Close(now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterClose(ctx, ticketID)
	}
	return tr, nil
}

// ApplyPauseConditions pauses the tracker when one of the policy's pause conditions
// holds for the ticket and resumes it when none does.
func (s *Service) ApplyPauseConditions(ctx context.Context, ticketID string) (*domainSLA.Tracker, error) {
	tk, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	tr, err := s.GetTracker(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	policy, err := s.GetPolicy(ctx, tr.PolicyID)
	if err != nil {
		return nil, err
	}
	if len(policy.PauseConditions) == 0 {
		return tr, nil
	}
	return s.applyPauseConditions(ctx, tk, policy)
}

func (s *Service) applyPauseConditions(ctx context.Context, tk *ticket.Ticket, policy *domainSLA.Policy) (*domainSLA.Tracker, error) {
	cond, err := policy.MatchPause(tk)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		return s.PauseSLA(ctx, tk.ID, cond.Reason)
	}
	return s.ResumeSLA(ctx, tk.ID)
}

// ProcessResult summarizes one pass over the check queue.
type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Findings  int `json:"findings"`
}

// ProcessDueChecks runs the status check for up to limit due check points and marks each
// processed or failed.
func (s *Service) ProcessDueChecks(ctx context.Context, now time.Time, limit int) (ProcessResult, error) {
	var res ProcessResult
	entries, err := s.checks.Due(ctx, now, limit)
	if err != nil {
		return res, fmt.Errorf("load due checks: %w", err)
	}
	for _, entry := range entries {
		findings, err := s.CheckSLAStatus(ctx, entry.TicketID)
		if err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Str("ticketId", entry.TicketID).Str("checkType", entry.CheckType).Msg("sla check failed")
			if markErr := s.checks.MarkFailed(ctx, entry.ID, s.now(), err.Error()); markErr != nil {
				s.logger.Error().Err(markErr).Str("checkId", entry.ID.String()).Msg("failed to mark check failed")
			}
			continue
		}
		res.Processed++
		res.Findings += len(findings)
		if err := s.checks.MarkProcessed(ctx, entry.ID, s.now()); err != nil {
			s.logger.Error().Err(err).Str("checkId", entry.ID.String()).Msg("failed to mark check processed")
		}
	}
	if len(entries) > 0 {
		s.logger.Debug().Int("processed", res.Processed).Int("failed", res.Failed).Int("findings", res.Findings).Msg("due checks processed")
	}
	return res, nil
}

// mutate loads the ticket's tracker, applies fn and saves it when fn reports a change.
// Version conflicts reload the tracker and rerun fn.
func (s *Service) mutate(ctx context.Context, ticketID string, fn func(tr *domainSLA.Tracker) bool) (*domainSLA.Tracker, bool, error) {
	for attempt := 1; ; attempt++ {
		tr, err := s.trackers.GetByTicket(ctx, ticketID)
		if err != nil {
			return nil, false, err
		}
		if tr == nil {
			return nil, false, domainSLA.ErrTrackerNotFound
		}
		if !fn(tr) {
			return tr, false, nil
		}
		err = s.trackers.Update(ctx, tr)
		if err == nil {
			return tr, true, nil
		}
		if !errors.Is(err, domainSLA.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, false, err
		}
		s.logger.Debug().Str("ticketId", ticketID).Int("attempt", attempt).Msg("tracker version conflict, retrying")
	}
}

func (s *Service) schedule(ctx context.Context, tr *domainSLA.Tracker) {
	entries := domainSLA.ScheduleChecks(tr, s.now())
	if len(entries) == 0 {
		return
	}
	if err := s.checks.Enqueue(ctx, entries); err != nil {
		s.logger.Error().Err(err).Str("ticketId", tr.TicketID).Msg("failed to schedule sla checks")
	}
}

func (s *Service) afterClose(ctx context.Context, ticketID string) {
	n, err := s.checks.CancelPending(ctx, ticketID)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticketId", ticketID).Msg("failed to cancel pending checks")
	}
	s.audit(ctx, ticketID, audit.ActionClose, audit.SystemActor, map[string]any{"cancelledChecks": n})
	s.logger.Info().Str("ticketId", ticketID).Int("cancelledChecks", n).Msg("sla tracker closed")
}

func (s *Service) getTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	tk, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if tk == nil {
		return nil, ticket.ErrNotFound
	}
	return tk, nil
}

func (s *Service) audit(ctx context.Context, ticketID string, action audit.Action, actor string, details map[string]any) {
	s.auditSvc.Log(ctx, &audit.Entry{
		EntityType: audit.EntityTypeSLATracker,
		EntityID:   ticketID,
		Action:     action,
		Actor:      actor,
		Details:    details,
	})
}

func windowLabel(w domainSLA.Window) string {
	if w == domainSLA.WindowFirstResponse {
		return "First response"
	}
	return "Resolution"
}
