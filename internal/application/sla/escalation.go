package sla

import (
	"context"
	"fmt"

	"github.com/execution-hub/bizrules/internal/application/escalation"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	domainSLA "github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// CheckSLAStatus evaluates the ticket's open windows and acts on every new breach,
// warning and approaching transition. Transitions are persisted before any side effect
// runs, so a repeated or concurrent check never fires the same transition twice.
func (s *Service) CheckSLAStatus(ctx context.Context, ticketID string) ([]domainSLA.Finding, error) {
	current, err := s.GetTracker(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	policy, err := s.GetPolicy(ctx, current.PolicyID)
	if err != nil {
		return nil, err
	}
	approaching := policy.ApproachingThresholds()

	// The ticket is read before any transition is persisted. A failed read leaves the
	// tracker untouched so a later check acts on the same transitions.
	tk, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}

	var findings []domainSLA.Finding
	tr, changed, err := s.mutate(ctx, ticketID, func(tr *domainSLA.Tracker) bool {
		findings = tr.Check(s.now(), approaching)
		return len(findings) > 0
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	if tk == nil {
		s.logger.Warn().Str("ticketId", ticketID).Msg("ticket not found, escalating from tracker fields")
		tk = &ticket.Ticket{ID: ticketID, Priority: tr.Priority, AssigneeID: tr.AssigneeID}
	}
	for _, f := range findings {
		s.handleFinding(ctx, tr, tk, policy, f)
	}
	return findings, nil
}

func (s *Service) handleFinding(ctx context.Context, tr *domainSLA.Tracker, tk *ticket.Ticket, policy *domainSLA.Policy, f domainSLA.Finding) {
	details := map[string]any{
		"window":     string(f.Window),
		"elapsedPct": f.ElapsedPct,
	}
	switch f.Kind {
	case domainSLA.FindingBreach:
		s.audit(ctx, tr.TicketID, audit.ActionBreach, audit.SystemActor, details)
		s.logger.Warn().Str("ticketId", tr.TicketID).Str("window", string(f.Window)).Msg("sla breached")
		tmpl := notification.NewNotification("", notification.TypeSLABreach, notification.PriorityUrgent,
			"SLA breached", fmt.Sprintf("%s target for ticket %s was breached", windowLabel(f.Window), tr.TicketID)).
			ForEntity("ticket", tr.TicketID).
			WithMetadata(map[string]any{"window": string(f.Window), "priority": string(tr.Priority)})
		targets := []string{escalation.DefaultManagerRole}
		if tk.AssigneeID != nil {
			targets = append([]string{*tk.AssigneeID}, targets...)
		}
		s.dispatcher.NotifyTargets(ctx, targets, tk.AssigneeID, tmpl)
	case domainSLA.FindingWarning:
		details["warningKey"] = f.Key
		s.audit(ctx, tr.TicketID, audit.ActionWarning, audit.SystemActor, details)
		s.logger.Info().Str("ticketId", tr.TicketID).Str("warningKey", f.Key).Msg("sla warning")
		tmpl := notification.NewNotification("", notification.TypeSLAWarning, notification.PriorityNormal,
			"SLA warning", fmt.Sprintf("%s for ticket %s is %d%% through its window", windowLabel(f.Window), tr.TicketID, f.ThresholdPct)).
			ForEntity("ticket", tr.TicketID).
			WithMetadata(map[string]any{"window": string(f.Window), "thresholdPct": f.ThresholdPct, "warningKey": f.Key})
		if tk.AssigneeID != nil {
			s.notifier.Notify(ctx, tmpl.Clone(*tk.AssigneeID))
		} else {
			s.dispatcher.NotifyTargets(ctx, []string{escalation.DefaultManagerRole}, nil, tmpl)
		}
	case domainSLA.FindingApproaching:
		details["warningKey"] = f.Key
		s.audit(ctx, tr.TicketID, audit.ActionWarning, audit.SystemActor, details)
	}

	for _, pct := range f.Thresholds() {
		for _, rule := range policy.RulesFor(f.Trigger(), pct) {
			for _, action := range rule.Actions {
				s.executeAction(ctx, tk, f, action)
			}
		}
	}
}

// executeAction performs one escalation action. Failures are logged and never stop the
// remaining actions.
func (s *Service) executeAction(ctx context.Context, tk *ticket.Ticket, f domainSLA.Finding, action domainSLA.EscalationAction) {
	log := s.logger.With().Str("ticketId", tk.ID).Str("action", string(action.Type)).Str("trigger", string(f.Trigger())).Logger()
	priority := notification.PriorityHigh
	if f.Kind == domainSLA.FindingBreach {
		priority = notification.PriorityUrgent
	}
	message := action.Message
	if message == "" {
		message = fmt.Sprintf("Ticket %s requires attention: %s %s", tk.ID, windowLabel(f.Window), f.Trigger())
	}
	targets := action.Targets
	if len(targets) == 0 {
		targets = []string{escalation.DefaultManagerRole}
	}

	switch action.Type {
	case domainSLA.ActionNotify:
		tmpl := notification.NewNotification("", notification.TypeSLAEscalation, priority, "SLA escalation", message).
			ForEntity("ticket", tk.ID).
			WithMetadata(map[string]any{"window": string(f.Window), "trigger": string(f.Trigger())})
		sent := s.dispatcher.NotifyTargets(ctx, targets, tk.AssigneeID, tmpl)
		log.Debug().Strs("recipients", sent).Msg("escalation notifications sent")

	case domainSLA.ActionReassign:
		previous := tk.AssigneeID
		u, err := s.dispatcher.Reassign(ctx, tk, action.Role, action.WorkloadCap)
		if err != nil {
			log.Error().Err(err).Msg("reassignment failed")
			return
		}
		if u == nil {
			log.Warn().Str("role", action.Role).Msg("no eligible agent for reassignment")
			return
		}
		if _, _, err := s.mutate(ctx, tk.ID, func(tr *domainSLA.Tracker) bool {
			id := u.ID
			tr.AssigneeID = &id
			tr.UpdatedAt = s.now()
			return true
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record new assignee on tracker")
		}
		details := map[string]any{"assigneeId": u.ID}
		if previous != nil {
			details["previousAssigneeId"] = *previous
		}
		s.audit(ctx, tk.ID, audit.ActionReassign, audit.SystemActor, details)

	case domainSLA.ActionEscalate:
		level, err := s.dispatcher.Escalate(ctx, tk)
		if err != nil {
			log.Error().Err(err).Msg("escalation failed")
			return
		}
		if _, _, err := s.mutate(ctx, tk.ID, func(tr *domainSLA.Tracker) bool {
			tr.EscalationLevel++
			tr.UpdatedAt = s.now()
			return true
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record escalation on tracker")
		}
		s.audit(ctx, tk.ID, audit.ActionEscalate, audit.SystemActor, map[string]any{"level": level})
		tmpl := notification.NewNotification("", notification.TypeSLAEscalation, priority,
			fmt.Sprintf("Ticket escalated to level %d", level), message).
			ForEntity("ticket", tk.ID).
			WithMetadata(map[string]any{"escalationLevel": level, "window": string(f.Window)})
		s.dispatcher.NotifyTargets(ctx, targets, tk.AssigneeID, tmpl)

	case domainSLA.ActionCreateTask:
		task, err := s.dispatcher.CreateTask(ctx, tk, "", message)
		if err != nil {
			log.Error().Err(err).Msg("task creation failed")
			return
		}
		s.audit(ctx, tk.ID, audit.ActionCreateTask, audit.SystemActor, map[string]any{
			"taskId": task.TaskID.String(),
			"dueAt":  task.DueAt,
		})

	default:
		log.Warn().Msg("unknown escalation action")
	}
}
