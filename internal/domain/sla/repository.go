package sla

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PolicyRepository stores SLA policies.
type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	// ListCandidates returns active policies bound to the contract or account, plus
	// active default policies.
	ListCandidates(ctx context.Context, contractID, accountID *string) ([]*Policy, error)
}

// TrackerFilter for listing trackers
type TrackerFilter struct {
	StartFrom *time.Time
	StartTo   *time.Time
	Closed    *bool
}

// TrackerRepository stores one tracker per ticket. Update is a compare-and-swap on
// Version returning ErrVersionConflict and bumping t.Version on success. Create returns
// ErrVersionConflict when a tracker for the ticket already exists.
type TrackerRepository interface {
	Create(ctx context.Context, t *Tracker) error
	GetByTicket(ctx context.Context, ticketID string) (*Tracker, error)
	Update(ctx context.Context, t *Tracker) error
	List(ctx context.Context, filter TrackerFilter) ([]*Tracker, error)
}

// CheckQueue is the durable queue of due status checks.
type CheckQueue interface {
	Enqueue(ctx context.Context, entries []*CheckEntry) error
	// Due returns up to limit pending entries with CheckTime <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*CheckEntry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, reason string) error
	// CancelPending cancels every pending entry of the ticket and returns how many changed.
	CancelPending(ctx context.Context, ticketID string) (int, error)
	ListByTicket(ctx context.Context, ticketID string) ([]*CheckEntry, error)
}
