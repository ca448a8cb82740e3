package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/calendar"
	"github.com/execution-hub/bizrules/internal/domain/sla"
)

// policyDefinition is the JSONB body of a policy row.
type policyDefinition struct {
	Targets         []sla.Target            `json:"targets"`
	BusinessHours   *calendar.BusinessHours `json:"businessHours,omitempty"`
	EscalationRules []sla.EscalationRule    `json:"escalationRules,omitempty"`
	PauseConditions []sla.PauseCondition    `json:"pauseConditions,omitempty"`
}

// PolicyRepository implements sla.PolicyRepository.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

func (r *PolicyRepository) Create(ctx context.Context, p *sla.Policy) error {
	def, err := json.Marshal(policyDefinition{
		Targets:         p.Targets,
		BusinessHours:   p.BusinessHours,
		EscalationRules: p.EscalationRules,
		PauseConditions: p.PauseConditions,
	})
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sla_policies
		(id, name, active, is_default, contract_id, account_id, definition, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.Name, p.Active, p.IsDefault, p.ContractID, p.AccountID, def, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*sla.Policy, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, active, is_default, contract_id, account_id, definition, created_at, updated_at
		FROM sla_policies WHERE id=$1
	`, id)
	return scanPolicy(row)
}

func (r *PolicyRepository) ListCandidates(ctx context.Context, contractID, accountID *string) ([]*sla.Policy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, active, is_default, contract_id, account_id, definition, created_at, updated_at
		FROM sla_policies
		WHERE active AND (is_default OR ($1::text IS NOT NULL AND contract_id=$1) OR ($2::text IS NOT NULL AND account_id=$2))
		ORDER BY created_at ASC
	`, contractID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*sla.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPolicy(row pgx.Row) (*sla.Policy, error) {
	var (
		p   sla.Policy
		def []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Active, &p.IsDefault, &p.ContractID, &p.AccountID, &def, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	var d policyDefinition
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	p.Targets = d.Targets
	p.BusinessHours = d.BusinessHours
	p.EscalationRules = d.EscalationRules
	p.PauseConditions = d.PauseConditions
	return &p, nil
}

// TrackerRepository implements sla.TrackerRepository. The tracker is stored as a JSONB
// document next to the columns used for filtering.
type TrackerRepository struct {
	pool *pgxpool.Pool
}

func NewTrackerRepository(pool *pgxpool.Pool) *TrackerRepository {
	return &TrackerRepository{pool: pool}
}

func (r *TrackerRepository) Create(ctx context.Context, t *sla.Tracker) error {
	t.Version = 1
	state, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tracker: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sla_trackers
		(ticket_id, tracker_id, policy_id, priority, start_time, closed, state, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.TicketID, t.TrackerID, t.PolicyID, t.Priority, t.StartTime, t.Closed, state, t.Version, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return sla.ErrVersionConflict
	}
	return err
}

func (r *TrackerRepository) GetByTicket(ctx context.Context, ticketID string) (*sla.Tracker, error) {
	row := r.pool.QueryRow(ctx, `SELECT state, version FROM sla_trackers WHERE ticket_id=$1`, ticketID)
	return scanTracker(row)
}

// Update writes t when the stored version still equals t.Version.
func (r *TrackerRepository) Update(ctx context.Context, t *sla.Tracker) error {
	next := *t
	next.Version = t.Version + 1
	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal tracker: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sla_trackers
		SET closed=$1, state=$2, version=$3, updated_at=$4
		WHERE ticket_id=$5 AND version=$6
	`, t.Closed, state, next.Version, t.UpdatedAt, t.TicketID, t.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByTicket(ctx, t.TicketID)
		if err != nil {
			return err
		}
		if existing == nil {
			return sla.ErrTrackerNotFound
		}
		return sla.ErrVersionConflict
	}
	t.Version = next.Version
	return nil
}

func (r *TrackerRepository) List(ctx context.Context, filter sla.TrackerFilter) ([]*sla.Tracker, error) {
	query := `SELECT state, version FROM sla_trackers`
	args := []interface{}{}
	idx := 1
	if filter.StartFrom != nil {
		query += " WHERE start_time >= $" + itoa(idx)
		args = append(args, *filter.StartFrom)
		idx++
	}
	if filter.StartTo != nil {
		query += addWhere(query) + " start_time < $" + itoa(idx)
		args = append(args, *filter.StartTo)
		idx++
	}
	if filter.Closed != nil {
		query += addWhere(query) + " closed=$" + itoa(idx)
		args = append(args, *filter.Closed)
	}
	query += " ORDER BY start_time ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*sla.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTracker(row pgx.Row) (*sla.Tracker, error) {
	var (
		state   []byte
		version int64
	)
	if err := row.Scan(&state, &version); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	var t sla.Tracker
	if err := json.Unmarshal(state, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tracker: %w", err)
	}
	t.Version = version
	return &t, nil
}

// CheckQueue implements sla.CheckQueue.
type CheckQueue struct {
	pool *pgxpool.Pool
}

func NewCheckQueue(pool *pgxpool.Pool) *CheckQueue {
	return &CheckQueue{pool: pool}
}

func (q *CheckQueue) Enqueue(ctx context.Context, entries []*sla.CheckEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO sla_check_queue (id, ticket_id, check_time, check_type, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, e.ID, e.TicketID, e.CheckTime, e.CheckType, e.Status, e.CreatedAt)
	}
	return q.pool.SendBatch(ctx, batch).Close()
}

func (q *CheckQueue) Due(ctx context.Context, now time.Time, limit int) ([]*sla.CheckEntry, error) {
	return q.query(ctx, `
		SELECT id, ticket_id, check_time, check_type, status, error, processed_at, created_at
		FROM sla_check_queue WHERE status=$1 AND check_time <= $2
		ORDER BY check_time ASC LIMIT $3
	`, sla.CheckPending, now, limit)
}

func (q *CheckQueue) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.pool.Exec(ctx, `UPDATE sla_check_queue SET status=$1, processed_at=$2 WHERE id=$3`, sla.CheckProcessed, at, id)
	return err
}

func (q *CheckQueue) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, reason string) error {
	_, err := q.pool.Exec(ctx, `UPDATE sla_check_queue SET status=$1, processed_at=$2, error=$3 WHERE id=$4`, sla.CheckFailed, at, reason, id)
	return err
}

func (q *CheckQueue) CancelPending(ctx context.Context, ticketID string) (int, error) {
	tag, err := q.pool.Exec(ctx, `UPDATE sla_check_queue SET status=$1 WHERE ticket_id=$2 AND status=$3`, sla.CheckCancelled, ticketID, sla.CheckPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *CheckQueue) ListByTicket(ctx context.Context, ticketID string) ([]*sla.CheckEntry, error) {
	return q.query(ctx, `
		SELECT id, ticket_id, check_time, check_type, status, error, processed_at, created_at
		FROM sla_check_queue WHERE ticket_id=$1 ORDER BY check_time ASC
	`, ticketID)
}

func (q *CheckQueue) query(ctx context.Context, sql string, args ...interface{}) ([]*sla.CheckEntry, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*sla.CheckEntry
	for rows.Next() {
		var e sla.CheckEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.CheckTime, &e.CheckType, &e.Status, &e.Error, &e.ProcessedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
