package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/bizrules/internal/domain/sla"
)

// PolicyRepository implements sla.PolicyRepository
type PolicyRepository struct {
	mu    sync.RWMutex
	items []*sla.Policy
}

func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{}
}

func (r *PolicyRepository) Create(_ context.Context, p *sla.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.items = append(r.items, clone(p))
	return nil
}

func (r *PolicyRepository) GetByID(_ context.Context, id uuid.UUID) (*sla.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.ID == id {
			return clone(p), nil
		}
	}
	return nil, nil
}

func (r *PolicyRepository) ListCandidates(_ context.Context, contractID, accountID *string) ([]*sla.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*sla.Policy
	for _, p := range r.items {
		if !p.Active {
			continue
		}
		if p.IsDefault || p.MatchesContract(contractID) || p.MatchesAccount(accountID) {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

// TrackerRepository implements sla.TrackerRepository
type TrackerRepository struct {
	conflicts
	mu    sync.RWMutex
	items map[string]*sla.Tracker
}

func NewTrackerRepository() *TrackerRepository {
	return &TrackerRepository{items: map[string]*sla.Tracker{}}
}

func (r *TrackerRepository) Create(_ context.Context, t *sla.Tracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.TicketID]; ok {
		return sla.ErrVersionConflict
	}
	t.Version = 1
	r.items[t.TicketID] = clone(t)
	return nil
}

func (r *TrackerRepository) GetByTicket(_ context.Context, ticketID string) (*sla.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.items[ticketID]), nil
}

func (r *TrackerRepository) Update(_ context.Context, t *sla.Tracker) error {
	if forced, hook := r.take(); forced {
		if hook != nil {
			hook()
		}
		return sla.ErrVersionConflict
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[t.TicketID]
	if !ok {
		return sla.ErrTrackerNotFound
	}
	if cur.Version != t.Version {
		return sla.ErrVersionConflict
	}
	t.Version++
	r.items[t.TicketID] = clone(t)
	return nil
}

func (r *TrackerRepository) List(_ context.Context, filter sla.TrackerFilter) ([]*sla.Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*sla.Tracker
	for _, t := range r.items {
		if filter.StartFrom != nil && t.StartTime.Before(*filter.StartFrom) {
			continue
		}
		if filter.StartTo != nil && !t.StartTime.Before(*filter.StartTo) {
			continue
		}
		if filter.Closed != nil && t.Closed != *filter.Closed {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// CheckQueue implements sla.CheckQueue
type CheckQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*sla.CheckEntry
}

func NewCheckQueue() *CheckQueue {
	return &CheckQueue{entries: map[uuid.UUID]*sla.CheckEntry{}}
}

func (q *CheckQueue) Enqueue(_ context.Context, entries []*sla.CheckEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.entries[e.ID] = clone(e)
	}
	return nil
}

func (q *CheckQueue) Due(_ context.Context, now time.Time, limit int) ([]*sla.CheckEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*sla.CheckEntry
	for _, e := range q.entries {
		if e.Status == sla.CheckPending && !e.CheckTime.After(now) {
			out = append(out, clone(e))
		}
	}
	sortEntries(out)
	return page(out, limit, 0), nil
}

func (q *CheckQueue) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return q.mark(id, sla.CheckProcessed, at, nil)
}

func (q *CheckQueue) MarkFailed(_ context.Context, id uuid.UUID, at time.Time, reason string) error {
	return q.mark(id, sla.CheckFailed, at, &reason)
}

func (q *CheckQueue) mark(id uuid.UUID, status sla.CheckStatus, at time.Time, reason *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil
	}
	e.Status = status
	e.ProcessedAt = &at
	e.Error = reason
	return nil
}

func (q *CheckQueue) CancelPending(_ context.Context, ticketID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.TicketID == ticketID && e.Status == sla.CheckPending {
			e.Status = sla.CheckCancelled
			n++
		}
	}
	return n, nil
}

func (q *CheckQueue) ListByTicket(_ context.Context, ticketID string) ([]*sla.CheckEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*sla.CheckEntry
	for _, e := range q.entries {
		if e.TicketID == ticketID {
			out = append(out, clone(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []*sla.CheckEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CheckTime.Equal(entries[j].CheckTime) {
			return entries[i].CheckType < entries[j].CheckType
		}
		return entries[i].CheckTime.Before(entries[j].CheckTime)
	})
}
