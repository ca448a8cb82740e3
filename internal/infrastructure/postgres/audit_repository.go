package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Create(ctx context.Context, e *audit.Event) error {
	var details []byte
	if len(e.Details) > 0 {
		details = e.Details
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO audit_events
		(event_id, entity_type, entity_id, action, actor, details, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, e.EventID, e.EntityType, e.EntityID, e.Action, e.Actor, details, e.Signature, e.CreatedAt).Scan(&e.ID)
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, entity_type, entity_id, action, actor, details, signature, created_at
		FROM audit_events WHERE entity_type=$1 AND entity_id=$2 ORDER BY created_at ASC, id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*audit.Event
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanAudit(row pgx.Row) (*audit.Event, error) {
	var (
		e       audit.Event
		details []byte
	)
	if err := row.Scan(&e.ID, &e.EventID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &details, &e.Signature, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		e.Details = details
	}
	return &e, nil
}
