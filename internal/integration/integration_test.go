//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/bizrules/internal/api/http"
	"github.com/execution-hub/bizrules/internal/bootstrap"
	"github.com/execution-hub/bizrules/internal/config"
	"github.com/execution-hub/bizrules/internal/domain/approval"
	"github.com/execution-hub/bizrules/internal/domain/directory"
	"github.com/execution-hub/bizrules/internal/domain/sla"
	"github.com/execution-hub/bizrules/internal/domain/ticket"
	"github.com/execution-hub/bizrules/internal/infrastructure/postgres"
)

const auditKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func strPtr(s string) *string { return &s }

func TestDiscountApprovalIntegration(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()

	var created approval.Request
	env.postJSON(t, "/v1/approvals/discount", map[string]interface{}{
		"quoteId": "Q-1", "requesterId": "rep", "totalAmount": 10000, "discountPct": 25,
	}, http.StatusCreated, &created)
	if created.Status != approval.StatusPending || len(created.Metadata.Chain) != 2 {
		t.Fatalf("unexpected request: %+v", created)
	}

	path := "/v1/approvals/" + created.RequestID.String() + "/decide"
	env.postJSON(t, path, map[string]interface{}{"approverId": "fm", "action": "approved"}, http.StatusForbidden, nil)
	env.postJSON(t, path, map[string]interface{}{"approverId": "sm", "action": "approved"}, http.StatusOK, nil)

	var done approval.Request
	env.postJSON(t, path, map[string]interface{}{"approverId": "fm", "action": "approved"}, http.StatusOK, &done)
	if done.Status != approval.StatusApproved || done.Version != 4 {
		t.Fatalf("expected approved at version 4 (create, two decisions, execution), got %s v%d", done.Status, done.Version)
	}
	if done.Metadata.ExecutedAt == nil {
		t.Fatalf("executor did not run")
	}

	var status string
	var discount float64
	if err := env.pool.QueryRow(context.Background(), `SELECT status, discount_pct FROM quotes WHERE id='Q-1'`).Scan(&status, &discount); err != nil {
		t.Fatalf("load quote: %v", err)
	}
	if status != "approved" || discount != 25 {
		t.Fatalf("quote not updated: %s %.2f", status, discount)
	}

	var inbox struct {
		Notifications []struct {
			Type string `json:"type"`
		} `json:"notifications"`
	}
	env.getJSON(t, "/v1/notifications?user_id=sm", &inbox)
	if len(inbox.Notifications) == 0 || inbox.Notifications[len(inbox.Notifications)-1].Type != "approval_required" {
		t.Fatalf("expected approval_required notification for sm, got %+v", inbox.Notifications)
	}

	env.app.Audit.Wait()
	var history struct {
		Events []struct {
			Action   string `json:"action"`
			Verified bool   `json:"verified"`
		} `json:"events"`
	}
	env.getJSON(t, "/v1/audit/approval_request/"+created.RequestID.String(), &history)
	if len(history.Events) != 4 {
		t.Fatalf("expected 4 audit events, got %d", len(history.Events))
	}
	for _, e := range history.Events {
		if !e.Verified {
			t.Fatalf("audit event %s not verified", e.Action)
		}
	}
}

func TestSLABreachIntegration(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()

	start := time.Now().UTC().Truncate(time.Second)
	now := start
	env.app.SLA.WithClock(func() time.Time { return now })

	env.postJSON(t, "/v1/sla/policies", map[string]interface{}{
		"name":      "Standard",
		"isDefault": true,
		"targets": []map[string]interface{}{
			{"priority": "high", "firstResponseMinutes": 60, "resolutionMinutes": 240},
		},
		"escalationRules": []map[string]interface{}{
			{"trigger": "breach", "actions": []map[string]interface{}{
				{"type": "escalate"},
				{"type": "create_task", "message": "Call the customer"},
			}},
		},
		"pauseConditions": []map[string]interface{}{
			{"expression": "status == 'waiting_customer'", "reason": "awaiting customer"},
		},
	}, http.StatusCreated, nil)

	var tr sla.Tracker
	env.postJSON(t, "/v1/sla/tickets/T-1/initialize", nil, http.StatusOK, &tr)
	if !tr.FirstResponseTarget.Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected first response target %s", tr.FirstResponseTarget)
	}

	ctx := context.Background()
	entries, err := env.app.Stores.Checks.ListByTicket(ctx, "T-1")
	if err != nil || len(entries) != 6 {
		t.Fatalf("expected 6 check points, got %d (%v)", len(entries), err)
	}

	now = start.Add(61 * time.Minute)
	res, err := env.app.SLA.ProcessDueChecks(ctx, now, 50)
	if err != nil {
		t.Fatalf("process checks: %v", err)
	}
	if res.Processed != 3 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	env.getJSON(t, "/v1/sla/tickets/T-1", &tr)
	if !tr.Breached || tr.EscalationLevel != 1 {
		t.Fatalf("expected breach at level 1, got breached=%v level=%d", tr.Breached, tr.EscalationLevel)
	}
	var tasks int
	if err := env.pool.QueryRow(ctx, `SELECT count(*) FROM ticket_tasks WHERE ticket_id='T-1'`).Scan(&tasks); err != nil || tasks != 1 {
		t.Fatalf("expected one follow-up task, got %d (%v)", tasks, err)
	}

	// Waiting on the customer pauses the clock through the policy condition.
	if _, err := env.pool.Exec(ctx, `UPDATE tickets SET status='waiting_customer' WHERE id='T-1'`); err != nil {
		t.Fatalf("update ticket: %v", err)
	}
	env.postJSON(t, "/v1/sla/tickets/T-1/status-changed", nil, http.StatusOK, &tr)
	if tr.PausedAt == nil {
		t.Fatalf("expected tracker to be paused")
	}

	now = start.Add(90 * time.Minute)
	if _, err := env.pool.Exec(ctx, `UPDATE tickets SET status='resolved' WHERE id='T-1'`); err != nil {
		t.Fatalf("update ticket: %v", err)
	}
	env.postJSON(t, "/v1/sla/tickets/T-1/status-changed", nil, http.StatusOK, &tr)
	if !tr.Closed || tr.ResolutionAt == nil {
		t.Fatalf("expected closed tracker with resolution, got %+v", tr)
	}

	var report sla.Report
	env.getJSON(t, "/v1/sla/reports?from="+start.Add(-time.Hour).Format(time.RFC3339)+"&to="+start.Add(time.Hour).Format(time.RFC3339), &report)
	if report.TotalTickets != 1 {
		t.Fatalf("expected one ticket in report, got %d", report.TotalTickets)
	}
}

func TestRepositoryCompareAndSwap(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	req, err := approval.NewRequest(approval.EntityExpense, "E-1", "rep", nil, "", approval.Metadata{
		Domain: approval.DomainExpense,
		Chain:  []approval.ApproverConfig{approval.Role("finance_manager", 1)},
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	repo := env.app.Stores.Approvals
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	a, _ := repo.GetByID(ctx, req.RequestID)
	b, _ := repo.GetByID(ctx, req.RequestID)
	a.UpdatedAt = a.UpdatedAt.Add(time.Second)
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	b.UpdatedAt = b.UpdatedAt.Add(2 * time.Second)
	if err := repo.Update(ctx, b); !errors.Is(err, approval.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	missing := *a
	missing.RequestID = uuid.New()
	if err := repo.Update(ctx, &missing); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	start := time.Now().UTC().Truncate(time.Millisecond)
	trackers := env.app.Stores.Trackers
	policy := &sla.Policy{ID: uuid.New(), Name: "p", Active: true, Targets: []sla.Target{{Priority: ticket.PriorityHigh, FirstResponseMinutes: 60, ResolutionMinutes: 240}}}
	if err := env.app.Stores.Policies.Create(ctx, policy); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	tr := &sla.Tracker{TrackerID: uuid.New(), TicketID: "T-1", PolicyID: policy.ID, Priority: ticket.PriorityHigh, StartTime: start, CreatedAt: start, UpdatedAt: start}
	if err := trackers.Create(ctx, tr); err != nil {
		t.Fatalf("create tracker: %v", err)
	}
	dup := *tr
	dup.TrackerID = uuid.New()
	if err := trackers.Create(ctx, &dup); !errors.Is(err, sla.ErrVersionConflict) {
		t.Fatalf("expected duplicate tracker conflict, got %v", err)
	}
	x, _ := trackers.GetByTicket(ctx, "T-1")
	y, _ := trackers.GetByTicket(ctx, "T-1")
	x.EscalationLevel = 1
	if err := trackers.Update(ctx, x); err != nil {
		t.Fatalf("tracker update: %v", err)
	}
	y.EscalationLevel = 5
	if err := trackers.Update(ctx, y); !errors.Is(err, sla.ErrVersionConflict) {
		t.Fatalf("expected tracker conflict, got %v", err)
	}
	got, _ := trackers.GetByTicket(ctx, "T-1")
	if got.EscalationLevel != 1 || got.Version != 2 {
		t.Fatalf("unexpected stored tracker level=%d version=%d", got.EscalationLevel, got.Version)
	}
}

func TestTicketNarrowWrites(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	tickets := postgres.NewTicketRepository(env.app.Pool)
	if _, err := env.app.Pool.Exec(ctx, `UPDATE tickets SET status='in_progress', account_id='ACME' WHERE id='T-1'`); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := tickets.AssignTicket(ctx, "T-1", "lead"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	level, err := tickets.IncrementEscalation(ctx, "T-1")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if level != 1 {
		t.Fatalf("expected level 1, got %d", level)
	}
	got, err := tickets.GetTicket(ctx, "T-1")
	if err != nil || got == nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Subject != "Printer on fire" || got.Status != ticket.StatusInProgress || got.AccountID == nil || *got.AccountID != "ACME" {
		t.Fatalf("unexpected ticket after narrow writes: %+v", got)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "lead" || got.EscalationLevel != 1 {
		t.Fatalf("unexpected assignee or level: %+v", got)
	}
	if err := tickets.AssignTicket(ctx, "missing", "lead"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected not found on assign, got %v", err)
	}
	if _, err := tickets.IncrementEscalation(ctx, "missing"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected not found on escalate, got %v", err)
	}
}

type testEnv struct {
	app     *bootstrap.App
	pool    *pgxpool.Pool
	server  *httptest.Server
	cleanup func()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := testDatabaseURL(t)
	ctx := context.Background()

	cfg := &config.Config{
		DatabaseURL:     dsn,
		StoreBackend:    config.BackendPostgres,
		TrackerBackend:  config.BackendPostgres,
		MigrationsDir:   filepath.Join(repoRoot(t), "internal", "migrations"),
		SchedulerBatch:  50,
		AuditSigningKey: mustDecodeHex(t, auditKeyHex),
	}
	app, err := bootstrap.New(ctx, cfg, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := resetDatabase(ctx, app.Pool); err != nil {
		app.Close()
		t.Fatalf("reset db: %v", err)
	}
	seed(t, app)

	apiServer := httpapi.NewServer(app.Approval, app.SLA, app.Report, app.Audit, app.Hub, cfg.SchedulerBatch, zerolog.Nop()).
		WithInbox(app.Stores.Inbox)
	server := httptest.NewServer(apiServer.Router())
	return &testEnv{
		app:    app,
		pool:   app.Pool,
		server: server,
		cleanup: func() {
			server.Close()
			app.Close()
		},
	}
}

func seed(t *testing.T, app *bootstrap.App) {
	t.Helper()
	ctx := context.Background()
	dir := postgres.NewDirectoryRepository(app.Pool)
	if err := dir.CreateDepartment(ctx, &directory.Department{ID: "sales", Name: "Sales"}); err != nil {
		t.Fatalf("seed department: %v", err)
	}
	users := []*directory.User{
		{ID: "rep", Name: "Rita Rep", Role: "sales_rep", Active: true, ManagerID: strPtr("sm"), DepartmentID: strPtr("sales")},
		{ID: "sm", Name: "Sam Manager", Role: "sales_manager", Active: true},
		{ID: "fm", Name: "Fay Finance", Role: "finance_manager", Active: true},
		{ID: "agent-a", Name: "Andy Agent", Role: "support_agent", Active: true, ManagerID: strPtr("lead")},
		{ID: "lead", Name: "Lee Lead", Role: "team_lead", Active: true},
		{ID: "mgr", Name: "Mo Manager", Role: "support_manager", Active: true},
	}
	for _, u := range users {
		if err := dir.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	now := time.Now().UTC()
	tickets := postgres.NewTicketRepository(app.Pool)
	if err := tickets.CreateTicket(ctx, &ticket.Ticket{
		ID: "T-1", Subject: "Printer on fire", Priority: ticket.PriorityHigh, Status: ticket.StatusOpen,
		AssigneeID: strPtr("agent-a"), CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	if _, err := app.Pool.Exec(ctx, `
		INSERT INTO quotes (id, status, total) VALUES ('Q-1', 'draft', 10000);
		INSERT INTO expenses (id, status, amount) VALUES ('E-1', 'submitted', 300);
	`); err != nil {
		t.Fatalf("seed business records: %v", err)
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: expected %d, got %d", path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func (e *testEnv) getJSON(t *testing.T, path string, out interface{}) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			audit_events,
			notifications,
			sla_check_queue,
			sla_trackers,
			sla_policies,
			approval_requests,
			ticket_tasks,
			tickets,
			quotes,
			projects,
			candidates,
			expenses,
			users,
			departments
		RESTART IDENTITY CASCADE
	`)
	return err
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	return b
}
