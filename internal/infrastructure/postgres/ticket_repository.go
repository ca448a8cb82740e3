package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

const ticketColumns = `id, subject, priority, status, assignee_id, contract_id, account_id, escalation_level, created_at, updated_at`

// TicketRepository implements ticket.Store.
type TicketRepository struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) CreateTicket(ctx context.Context, t *ticket.Ticket) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.Subject, t.Priority, t.Status, t.AssigneeID, t.ContractID, t.AccountID, t.EscalationLevel, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TicketRepository) GetTicket(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, ticketID)
	t, err := scanTicket(row)
	if isNoRows(err) {
		return nil, nil
	}
	return t, err
}

func (r *TicketRepository) AssignTicket(ctx context.Context, ticketID, assigneeID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET assignee_id=$1, updated_at=now()
		WHERE id=$2
	`, assigneeID, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ticket.ErrNotFound, ticketID)
	}
	return nil
}

func (r *TicketRepository) IncrementEscalation(ctx context.Context, ticketID string) (int, error) {
	var level int
	err := r.pool.QueryRow(ctx, `
		UPDATE tickets SET escalation_level=escalation_level+1, updated_at=now()
		WHERE id=$1
		RETURNING escalation_level
	`, ticketID).Scan(&level)
	if isNoRows(err) {
		return 0, fmt.Errorf("%w: %s", ticket.ErrNotFound, ticketID)
	}
	return level, err
}

func (r *TicketRepository) ListOpenByAssignee(ctx context.Context, assigneeID string) ([]*ticket.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE assignee_id=$1 AND status NOT IN ($2, $3)
		ORDER BY created_at ASC
	`, assigneeID, ticket.StatusResolved, ticket.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TicketRepository) CreateTask(ctx context.Context, task *ticket.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ticket_tasks (task_id, ticket_id, title, description, assignee_id, priority, due_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, task.TaskID, task.TicketID, task.Title, task.Description, task.AssigneeID, task.Priority, task.DueAt, task.CreatedAt)
	return err
}

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := row.Scan(&t.ID, &t.Subject, &t.Priority, &t.Status, &t.AssigneeID, &t.ContractID, &t.AccountID, &t.EscalationLevel, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
