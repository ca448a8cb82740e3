package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/bizrules/internal/domain/approval"
)

const approvalColumns = `id, request_id, entity_type, entity_id, requester_id, amount, description, status, approvals, metadata, version, created_at, updated_at`

// ApprovalRepository implements approval.Repository.
type ApprovalRepository struct {
	pool *pgxpool.Pool
}

func NewApprovalRepository(pool *pgxpool.Pool) *ApprovalRepository {
	return &ApprovalRepository{pool: pool}
}

func (r *ApprovalRepository) Create(ctx context.Context, req *approval.Request) error {
	approvals, metadata, err := marshalApproval(req)
	if err != nil {
		return err
	}
	req.Version = 1
	err = r.pool.QueryRow(ctx, `
		INSERT INTO approval_requests
		(request_id, entity_type, entity_id, requester_id, amount, description, status, approvals, metadata, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, req.RequestID, req.EntityType, req.EntityID, req.RequesterID, req.Amount, req.Description, req.Status, approvals, metadata, req.Version, req.CreatedAt, req.UpdatedAt).Scan(&req.ID)
	if isUniqueViolation(err) {
		return approval.ErrVersionConflict
	}
	return err
}

// Update writes req when the stored version still equals req.Version.
func (r *ApprovalRepository) Update(ctx context.Context, req *approval.Request) error {
	approvals, metadata, err := marshalApproval(req)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status=$1, approvals=$2, metadata=$3, updated_at=$4, version=version+1
		WHERE request_id=$5 AND version=$6
	`, req.Status, approvals, metadata, req.UpdatedAt, req.RequestID, req.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByID(ctx, req.RequestID)
		if err != nil {
			return err
		}
		if existing == nil {
			return approval.ErrNotFound
		}
		return approval.ErrVersionConflict
	}
	req.Version++
	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, requestID uuid.UUID) (*approval.Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE request_id=$1`, requestID)
	return scanApproval(row)
}

func (r *ApprovalRepository) List(ctx context.Context, filter approval.Filter, limit, offset int) ([]*approval.Request, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests`
	args := []interface{}{}
	idx := 1
	if filter.Status != nil {
		query += " WHERE status=$" + itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.EntityType != nil {
		query += addWhere(query) + " entity_type=$" + itoa(idx)
		args = append(args, *filter.EntityType)
		idx++
	}
	if filter.EntityID != nil {
		query += addWhere(query) + " entity_id=$" + itoa(idx)
		args = append(args, *filter.EntityID)
		idx++
	}
	if filter.RequesterID != nil {
		query += addWhere(query) + " requester_id=$" + itoa(idx)
		args = append(args, *filter.RequesterID)
		idx++
	}
	query += " ORDER BY id DESC LIMIT $" + itoa(idx) + " OFFSET $" + itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*approval.Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func marshalApproval(req *approval.Request) ([]byte, []byte, error) {
	approvals := req.Approvals
	if approvals == nil {
		approvals = []approval.Record{}
	}
	a, err := json.Marshal(approvals)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal approvals: %w", err)
	}
	m, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return a, m, nil
}

func scanApproval(row pgx.Row) (*approval.Request, error) {
	var (
		req                 approval.Request
		approvals, metadata []byte
	)
	if err := row.Scan(&req.ID, &req.RequestID, &req.EntityType, &req.EntityID, &req.RequesterID, &req.Amount, &req.Description, &req.Status, &approvals, &metadata, &req.Version, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(approvals, &req.Approvals); err != nil {
		return nil, fmt.Errorf("unmarshal approvals: %w", err)
	}
	if err := json.Unmarshal(metadata, &req.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &req, nil
}
