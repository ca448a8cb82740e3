package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAudit "github.com/execution-hub/bizrules/internal/application/audit"
	"github.com/execution-hub/bizrules/internal/application/escalation"
	"github.com/execution-hub/bizrules/internal/application/notify"
	"github.com/execution-hub/bizrules/internal/domain/audit"
	"github.com/execution-hub/bizrules/internal/domain/directory"
	"github.com/execution-hub/bizrules/internal/domain/notification"
	domainSLA "github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
	"github.com/execution-hub/bizrules/internal/infrastructure/memory"
)

func strPtr(s string) *string { return &s }

// 2026-10-19 is a Monday.
var start = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (r *recorder) Send(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) to(typ notification.Type) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.Type == typ {
			out = append(out, n.UserID)
		}
	}
	return out
}

type fixture struct {
	now      time.Time
	policies *memory.PolicyRepository
	trackers *memory.TrackerRepository
	checks   *memory.CheckQueue
	tickets  *memory.TicketStore
	dir      *memory.Directory
	auditSvc *appAudit.Service
	sink     *recorder
	svc      *Service
}

func (f *fixture) at(d time.Duration) { f.now = start.Add(d) }

func basePolicy() *domainSLA.Policy {
	return &domainSLA.Policy{
		ID:        uuid.New(),
		Name:      "Standard",
		Active:    true,
		IsDefault: true,
		Targets: []domainSLA.Target{
			{Priority: ticket.PriorityHigh, FirstResponseMinutes: 60, ResolutionMinutes: 240},
			{Priority: ticket.PriorityMedium, FirstResponseMinutes: 120, ResolutionMinutes: 480},
		},
		EscalationRules: []domainSLA.EscalationRule{
			{Trigger: domainSLA.TriggerBreach, Actions: []domainSLA.EscalationAction{
				{Type: domainSLA.ActionNotify, Targets: []string{"support_manager"}},
				{Type: domainSLA.ActionEscalate},
				{Type: domainSLA.ActionCreateTask, Message: "Call the customer"},
			}},
			{Trigger: domainSLA.TriggerApproaching, ThresholdPct: 90, Actions: []domainSLA.EscalationAction{
				{Type: domainSLA.ActionReassign},
			}},
		},
		PauseConditions: []domainSLA.PauseCondition{
			{Expression: "status == 'waiting_customer'", Reason: "awaiting customer"},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      start,
		policies: memory.NewPolicyRepository(),
		trackers: memory.NewTrackerRepository(),
		checks:   memory.NewCheckQueue(),
		tickets:  memory.NewTicketStore(),
		dir:      memory.NewDirectory(),
		sink:     &recorder{},
	}
	clock := func() time.Time { return f.now }
	notifier := notify.NewService(zerolog.Nop(), f.sink)
	f.auditSvc = appAudit.NewService(memory.NewAuditRepository(), zerolog.Nop(), nil)
	dispatcher := escalation.NewDispatcher(f.dir, f.tickets, notifier, 0, zerolog.Nop()).WithClock(clock)
	f.svc = NewService(f.policies, f.trackers, f.checks, f.tickets, dispatcher, notifier, f.auditSvc, zerolog.Nop()).
		WithClock(clock)

	f.dir.PutUser(&directory.User{ID: "agent-a", Role: "support_agent", Active: true, ManagerID: strPtr("lead")})
	f.dir.PutUser(&directory.User{ID: "agent-b", Role: "support_agent", Active: true})
	f.dir.PutUser(&directory.User{ID: "lead", Role: "team_lead", Active: true})
	f.dir.PutUser(&directory.User{ID: "mgr", Role: "support_manager", Active: true})
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Subject: "Printer on fire", Priority: ticket.PriorityHigh, Status: ticket.StatusOpen, AssigneeID: strPtr("agent-a")})

	_, err := f.svc.CreatePolicy(context.Background(), basePolicy())
	require.NoError(t, err)
	return f
}

func (f *fixture) init(t *testing.T) *domainSLA.Tracker {
	t.Helper()
	tr, err := f.svc.InitializeSLA(context.Background(), "T-1")
	require.NoError(t, err)
	return tr
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	entries, err := f.checks.ListByTicket(context.Background(), "T-1")
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Status == domainSLA.CheckPending {
			n++
		}
	}
	return n
}

func TestInitializeSLA(t *testing.T) {
	f := newFixture(t)

	tr := f.init(t)
	assert.Equal(t, start.Add(60*time.Minute), tr.FirstResponseTarget)
	assert.Equal(t, start.Add(240*time.Minute), tr.ResolutionTarget)
	assert.Equal(t, 6, f.pending(t))

	again := f.init(t)
	assert.Equal(t, tr.TrackerID, again.TrackerID)
	assert.Equal(t, 6, f.pending(t))
}

func TestInitializeSLA_PrefersContractPolicy(t *testing.T) {
	f := newFixture(t)
	contract := basePolicy()
	contract.Name = "Gold"
	contract.IsDefault = false
	contract.ContractID = strPtr("K-1")
	contract.Targets[0].FirstResponseMinutes = 15
	_, err := f.svc.CreatePolicy(context.Background(), contract)
	require.NoError(t, err)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-2", Priority: ticket.PriorityHigh, Status: ticket.StatusOpen, ContractID: strPtr("K-1")})

	tr, err := f.svc.InitializeSLA(context.Background(), "T-2")
	require.NoError(t, err)
	assert.Equal(t, contract.ID, tr.PolicyID)
	assert.Equal(t, start.Add(15*time.Minute), tr.FirstResponseTarget)
}

func TestInitializeSLA_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InitializeSLA(context.Background(), "missing")
	assert.ErrorIs(t, err, ticket.ErrNotFound)

	noPolicies := NewService(memory.NewPolicyRepository(), memory.NewTrackerRepository(), memory.NewCheckQueue(), f.tickets,
		nil, notify.NewService(zerolog.Nop()), f.auditSvc, zerolog.Nop())
	_, err = noPolicies.InitializeSLA(context.Background(), "T-1")
	assert.ErrorIs(t, err, domainSLA.ErrNoApplicablePolicy)
}

func TestCreatePolicy_Validates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePolicy(context.Background(), &domainSLA.Policy{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	p := basePolicy()
	p.PauseConditions = []domainSLA.PauseCondition{{Expression: "status ==", Reason: "broken"}}
	_, err = f.svc.CreatePolicy(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestCheckSLAStatus_WarningOnce(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(46 * time.Minute)
	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, domainSLA.FindingWarning, findings[0].Kind)
	assert.Equal(t, "first_response_75", findings[0].Key)
	assert.Equal(t, []string{"agent-a"}, f.sink.to(notification.TypeSLAWarning))

	for i := 0; i < 3; i++ {
		findings, err = f.svc.CheckSLAStatus(ctx, "T-1")
		require.NoError(t, err)
		assert.Empty(t, findings)
	}
	assert.Len(t, f.sink.to(notification.TypeSLAWarning), 1)

	tr, err := f.svc.GetTracker(ctx, "T-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first_response_50", "first_response_75"}, tr.WarningsSent)
}

func TestCheckSLAStatus_BreachRunsRulesOnce(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(61 * time.Minute)
	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, domainSLA.FindingBreach, findings[0].Kind)

	tr, err := f.svc.GetTracker(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, tr.Breached)
	require.NotNil(t, tr.BreachType)
	assert.Equal(t, domainSLA.WindowFirstResponse, *tr.BreachType)
	assert.Equal(t, 1, tr.EscalationLevel)

	assert.ElementsMatch(t, []string{"agent-a", "mgr", "lead"}, f.sink.to(notification.TypeSLABreach))
	tk, _ := f.tickets.GetTicket(ctx, "T-1")
	assert.Equal(t, 1, tk.EscalationLevel)
	require.Len(t, f.tickets.Tasks("T-1"), 1)
	assert.Equal(t, "Call the customer", f.tickets.Tasks("T-1")[0].Description)

	f.at(90 * time.Minute)
	findings, err = f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Len(t, f.tickets.Tasks("T-1"), 1)
	assert.Len(t, f.sink.to(notification.TypeSLABreach), 3)

	f.auditSvc.Wait()
	events, err := f.auditSvc.History(ctx, audit.EntityTypeSLATracker, "T-1")
	require.NoError(t, err)
	breaches := 0
	for _, e := range events {
		if e.Action == audit.ActionBreach {
			breaches++
		}
	}
	assert.Equal(t, 1, breaches)
}

func TestCheckSLAStatus_ConcurrentCheckDoesNotDoubleBreach(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	f.at(61 * time.Minute)

	f.trackers.ForceConflicts(1, func() {
		other, err := f.trackers.GetByTicket(ctx, "T-1")
		require.NoError(t, err)
		require.NotEmpty(t, other.Check(f.now, nil))
		require.NoError(t, f.trackers.Update(ctx, other))
	})

	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Empty(t, f.sink.to(notification.TypeSLABreach))
	assert.Empty(t, f.tickets.Tasks("T-1"))

	tr, err := f.svc.GetTracker(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, []domainSLA.Window{domainSLA.WindowFirstResponse}, tr.BreachedWindows)
}

func TestCheckSLAStatus_ApproachingReassigns(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(55 * time.Minute)
	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, domainSLA.FindingWarning, findings[0].Kind)
	assert.Equal(t, domainSLA.FindingApproaching, findings[1].Kind)
	assert.Equal(t, "first_response_approaching_90", findings[1].Key)

	tk, _ := f.tickets.GetTicket(ctx, "T-1")
	assert.Equal(t, "agent-b", *tk.AssigneeID)
	tr, err := f.svc.GetTracker(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", *tr.AssigneeID)
	assert.ElementsMatch(t, []string{"agent-b", "agent-a"}, f.sink.to(notification.TypeTicketReassigned))
}

// flakyTickets fails the next failures GetTicket calls.
type flakyTickets struct {
	*memory.TicketStore
	mu       sync.Mutex
	failures int
}

func (s *flakyTickets) GetTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("ticket store unavailable")
	}
	return s.TicketStore.GetTicket(ctx, ticketID)
}

func TestCheckSLAStatus_TicketReadFailureKeepsTicketIntact(t *testing.T) {
	f := newFixture(t)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Subject: "Printer on fire", Priority: ticket.PriorityHigh,
		Status: ticket.StatusInProgress, AssigneeID: strPtr("agent-a"), AccountID: strPtr("ACME")})
	f.init(t)
	ctx := context.Background()

	flaky := &flakyTickets{TicketStore: f.tickets, failures: 1}
	clock := func() time.Time { return f.now }
	notifier := notify.NewService(zerolog.Nop(), f.sink)
	dispatcher := escalation.NewDispatcher(f.dir, flaky, notifier, 0, zerolog.Nop()).WithClock(clock)
	svc := NewService(f.policies, f.trackers, f.checks, flaky, dispatcher, notifier, f.auditSvc, zerolog.Nop()).
		WithClock(clock)

	f.at(61 * time.Minute)
	_, err := svc.CheckSLAStatus(ctx, "T-1")
	require.Error(t, err)
	tr, err := svc.GetTracker(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, tr.Breached, "nothing is persisted when the ticket cannot be read")
	assert.Empty(t, f.sink.to(notification.TypeSLABreach))

	findings, err := svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, domainSLA.FindingBreach, findings[0].Kind)

	tk, err := f.tickets.GetTicket(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, "Printer on fire", tk.Subject)
	assert.Equal(t, ticket.StatusInProgress, tk.Status)
	require.NotNil(t, tk.AccountID)
	assert.Equal(t, "ACME", *tk.AccountID)
	assert.Equal(t, 1, tk.EscalationLevel)
}

func TestCheckSLAStatus_LowerWarningRulesRunWithSingleNotification(t *testing.T) {
	f := newFixture(t)
	contract := basePolicy()
	contract.Name = "Gold"
	contract.IsDefault = false
	contract.ContractID = strPtr("K-1")
	contract.EscalationRules = append(contract.EscalationRules, domainSLA.EscalationRule{
		Trigger: domainSLA.TriggerWarning, ThresholdPct: 50,
		Actions: []domainSLA.EscalationAction{{Type: domainSLA.ActionCreateTask, Message: "Check in at half time"}},
	})
	_, err := f.svc.CreatePolicy(context.Background(), contract)
	require.NoError(t, err)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-2", Priority: ticket.PriorityHigh, Status: ticket.StatusOpen,
		ContractID: strPtr("K-1"), AssigneeID: strPtr("agent-a")})
	ctx := context.Background()
	_, err = f.svc.InitializeSLA(ctx, "T-2")
	require.NoError(t, err)

	f.at(46 * time.Minute)
	findings, err := f.svc.CheckSLAStatus(ctx, "T-2")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "first_response_75", findings[0].Key)

	tasks := f.tickets.Tasks("T-2")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Check in at half time", tasks[0].Description)
	assert.Equal(t, []string{"agent-a"}, f.sink.to(notification.TypeSLAWarning))
}

func TestCheckSLAStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckSLAStatus(context.Background(), "T-1")
	assert.ErrorIs(t, err, domainSLA.ErrTrackerNotFound)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	orig := f.init(t)
	ctx := context.Background()

	f.at(10 * time.Minute)
	tr, err := f.svc.PauseSLA(ctx, "T-1", "vendor")
	require.NoError(t, err)
	assert.True(t, tr.IsPaused())

	f.at(15 * time.Minute)
	tr, err = f.svc.PauseSLA(ctx, "T-1", "again")
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor"}, tr.PauseReasons)
	assert.Equal(t, start.Add(10*time.Minute), *tr.PausedAt)

	f.at(100 * time.Minute)
	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.Empty(t, findings)

	f.at(40 * time.Minute)
	tr, err = f.svc.ResumeSLA(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, tr.IsPaused())
	assert.Equal(t, 30*time.Minute, tr.PausedDuration)
	assert.Equal(t, 30, tr.PausedMinutes)
	assert.Equal(t, orig.FirstResponseTarget.Add(30*time.Minute), tr.FirstResponseTarget)
	assert.Equal(t, orig.ResolutionTarget.Add(30*time.Minute), tr.ResolutionTarget)
	assert.Equal(t, 6, f.pending(t))

	again, err := f.svc.ResumeSLA(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, tr.FirstResponseTarget, again.FirstResponseTarget)

	f.at(50 * time.Minute)
	tr, err = f.svc.RecordFirstResponse(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, 20, *tr.FirstResponseMinutes)
	assert.True(t, *tr.FirstResponseMet)
}

func TestRecordEvents(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(20 * time.Minute)
	tr, err := f.svc.RecordFirstResponse(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, *tr.FirstResponseMet)
	assert.Equal(t, 20, *tr.FirstResponseMinutes)
	assert.Equal(t, []string{"agent-a"}, f.sink.to(notification.TypeSLAMet))

	f.at(30 * time.Minute)
	tr, err = f.svc.RecordFirstResponse(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(20*time.Minute), *tr.FirstResponseAt)
	assert.Len(t, f.sink.to(notification.TypeSLAMet), 1)

	f.at(300 * time.Minute)
	tr, err = f.svc.RecordResolution(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, *tr.ResolutionMet)
	assert.True(t, tr.Closed)
	assert.Equal(t, 0, f.pending(t))
	assert.Len(t, f.sink.to(notification.TypeSLAMet), 1)
}

func TestHandleStatusChanged(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(10 * time.Minute)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityHigh, Status: ticket.StatusWaitingCustomer, AssigneeID: strPtr("agent-a")})
	tr, err := f.svc.HandleStatusChanged(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, tr.IsPaused())
	assert.Equal(t, []string{"awaiting customer"}, tr.PauseReasons)

	f.at(70 * time.Minute)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityHigh, Status: ticket.StatusInProgress, AssigneeID: strPtr("agent-a")})
	tr, err = f.svc.HandleStatusChanged(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, tr.IsPaused())
	assert.Equal(t, 60*time.Minute, tr.PausedDuration)

	assert.Equal(t, 60, tr.PausedMinutes)

	f.at(100 * time.Minute)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityHigh, Status: ticket.StatusResolved, AssigneeID: strPtr("agent-a")})
	tr, err = f.svc.HandleStatusChanged(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, tr.Closed)
	require.NotNil(t, tr.ResolutionMinutes)
	assert.Equal(t, 40, *tr.ResolutionMinutes)
	assert.Equal(t, 0, f.pending(t))

	findings, err := f.svc.CheckSLAStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestHandleStatusChanged_ClosedWithoutResolution(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	f.at(30 * time.Minute)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityHigh, Status: ticket.StatusClosed, AssigneeID: strPtr("agent-a")})
	tr, err := f.svc.HandleStatusChanged(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, tr.Closed)
	assert.Nil(t, tr.ResolutionAt)
	assert.Nil(t, tr.ResolutionMet)
	assert.Equal(t, 0, f.pending(t))
	assert.Empty(t, f.sink.to(notification.TypeSLAMet))

	f.auditSvc.Wait()
	events, err := f.auditSvc.History(ctx, audit.EntityTypeSLATracker, "T-1")
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, audit.ActionResolution, e.Action)
	}
}

func TestInitializeSLA_PausedWhenWaitingOnCustomer(t *testing.T) {
	f := newFixture(t)
	f.tickets.PutTicket(&ticket.Ticket{ID: "T-1", Priority: ticket.PriorityHigh, Status: ticket.StatusWaitingCustomer})

	tr := f.init(t)
	assert.True(t, tr.IsPaused())
}

func TestProcessDueChecks(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()
	require.NoError(t, f.checks.Enqueue(ctx, []*domainSLA.CheckEntry{{
		ID: uuid.New(), TicketID: "ghost", CheckTime: start, CheckType: "first_response_50", Status: domainSLA.CheckPending,
	}}))

	f.at(46 * time.Minute)
	res, err := f.svc.ProcessDueChecks(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Findings)
	assert.Equal(t, 4, f.pending(t))

	ghost, err := f.checks.ListByTicket(ctx, "ghost")
	require.NoError(t, err)
	require.Len(t, ghost, 1)
	assert.Equal(t, domainSLA.CheckFailed, ghost[0].Status)
	require.NotNil(t, ghost[0].Error)

	res, err = f.svc.ProcessDueChecks(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}
