package escalation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/bizrules/internal/application/notify"
	"github.com/execution-hub/bizrules/internal/domain/directory"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// Defaults for escalation actions that leave a field empty.
const (
	DefaultAgentRole   = "support_agent"
	DefaultManagerRole = "support_manager"
	TaskDueIn          = time.Hour
)

// Dispatcher turns abstract escalation targets into concrete recipients and performs
// ticket-side escalation effects.
type Dispatcher struct {
	dir         directory.Directory
	tickets     ticket.Store
	notifier    *notify.Service
	workloadCap int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher. workloadCap applies to reassignment when the
// action does not set its own; zero disables the cap.
func NewDispatcher(dir directory.Directory, tickets ticket.Store, notifier *notify.Service, workloadCap int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:         dir,
		tickets:     tickets,
		notifier:    notifier,
		workloadCap: workloadCap,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "escalation").Logger(),
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// ResolveTargets expands targets into user ids. A target naming an existing user is used
// as is; anything else is treated as a role and expands to its active users. The
// assignee's manager is always added. The result is deduplicated in first-seen order.
func (d *Dispatcher) ResolveTargets(ctx context.Context, targets []string, assigneeID *string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, target := range targets {
		u, err := d.dir.GetUser(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("resolve target %s: %w", target, err)
		}
		if u != nil {
			add(u.ID)
			continue
		}
		users, err := d.dir.ListUsers(ctx, directory.ActiveWithRole(target))
		if err != nil {
			return nil, fmt.Errorf("resolve role %s: %w", target, err)
		}
		for _, u := range users {
			add(u.ID)
		}
	}

	if assigneeID != nil {
		assignee, err := d.dir.GetUser(ctx, *assigneeID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignee manager: %w", err)
		}
		if assignee != nil && assignee.ManagerID != nil {
			add(*assignee.ManagerID)
		}
	}
	return out, nil
}

// NotifyTargets resolves targets and sends each recipient a copy of tmpl. Resolution
// errors are logged and yield no recipients.
func (d *Dispatcher) NotifyTargets(ctx context.Context, targets []string, assigneeID *string, tmpl *notification.Notification) []string {
	ids, err := d.ResolveTargets(ctx, targets, assigneeID)
	if err != nil {
		d.logger.Warn().Err(err).Strs("targets", targets).Msg("failed to resolve escalation targets")
		return nil
	}
	return d.notifier.NotifyUsers(ctx, ids, tmpl)
}

// Workload is the weighted count of a user's open tickets.
func (d *Dispatcher) Workload(ctx context.Context, userID string) (int, error) {
	open, err := d.tickets.ListOpenByAssignee(ctx, userID)
	if err != nil {
		return 0, err
	}
	return ticket.Workload(open), nil
}

// Reassign moves t to the active user with role carrying the lowest workload,
// excluding the current assignee and anyone at or above the cap. Ties go to the lowest
// user id. It returns nil when no candidate qualifies.
func (d *Dispatcher) Reassign(ctx context.Context, t *ticket.Ticket, role string, workloadCap int) (*directory.User, error) {
	if role == "" {
		role = DefaultAgentRole
	}
	if workloadCap <= 0 {
		workloadCap = d.workloadCap
	}
	users, err := d.dir.ListUsers(ctx, directory.ActiveWithRole(role))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	var best *directory.User
	bestLoad := 0
	for _, u := range users {
		if t.AssigneeID != nil && *t.AssigneeID == u.ID {
			continue
		}
		load, err := d.Workload(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("workload for %s: %w", u.ID, err)
		}
		if workloadCap > 0 && load >= workloadCap {
			continue
		}
		if best == nil || load < bestLoad {
			best, bestLoad = u, load
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := d.tickets.AssignTicket(ctx, t.ID, best.ID); err != nil {
		return nil, fmt.Errorf("reassign ticket: %w", err)
	}
	previous := t.AssigneeID
	id := best.ID
	t.AssigneeID = &id
	t.UpdatedAt = d.now()

	d.notifier.Notify(ctx, notification.NewNotification(best.ID, notification.TypeTicketReassigned, notification.PriorityHigh,
		"Ticket reassigned to you", fmt.Sprintf("Ticket %s was reassigned to you by SLA escalation", t.ID)).
		ForEntity("ticket", t.ID).
		WithMetadata(map[string]any{"workload": bestLoad}))
	if previous != nil {
		d.notifier.Notify(ctx, notification.NewNotification(*previous, notification.TypeTicketReassigned, notification.PriorityNormal,
			"Ticket reassigned", fmt.Sprintf("Ticket %s was reassigned to %s", t.ID, best.Name)).
			ForEntity("ticket", t.ID))
	}
	d.logger.Info().Str("ticketId", t.ID).Str("assigneeId", best.ID).Int("workload", bestLoad).Msg("ticket reassigned")
	return best, nil
}

// Escalate raises the ticket's escalation level and returns the new level.
func (d *Dispatcher) Escalate(ctx context.Context, t *ticket.Ticket) (int, error) {
	level, err := d.tickets.IncrementEscalation(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("escalate ticket: %w", err)
	}
	t.EscalationLevel = level
	t.UpdatedAt = d.now()
	return level, nil
}

// CreateTask spawns a follow-up task for the ticket assignee, due in one hour.
func (d *Dispatcher) CreateTask(ctx context.Context, t *ticket.Ticket, title, description string) (*ticket.Task, error) {
	now := d.now()
	if title == "" {
		title = fmt.Sprintf("Follow up on ticket %s", t.ID)
	}
	task := &ticket.Task{
		TaskID:      uuid.New(),
		TicketID:    t.ID,
		Title:       title,
		Description: description,
		AssigneeID:  t.AssigneeID,
		Priority:    t.Priority,
		DueAt:       now.Add(TaskDueIn),
		CreatedAt:   now,
	}
	if err := d.tickets.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if t.AssigneeID != nil {
		d.notifier.Notify(ctx, notification.NewNotification(*t.AssigneeID, notification.TypeTaskCreated, notification.PriorityHigh,
			"Follow-up task created", title).
			ForEntity("ticket", t.ID).
			WithMetadata(map[string]any{"taskId": task.TaskID.String(), "dueAt": task.DueAt}))
	}
	return task, nil
}
