package approval

import (
	"context"

	"github.com/google/uuid"
)

// Filter for listing approval requests
type Filter struct {
	Status      *Status
	EntityType  *EntityType
	EntityID    *string
	RequesterID *string
}

// Repository defines the approval request persistence interface.
// Update is a compare-and-swap on Version: it fails with ErrVersionConflict when the
// stored version differs and bumps r.Version on success.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, requestID uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Request, error)
}
