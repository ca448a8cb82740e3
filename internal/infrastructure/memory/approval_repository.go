package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/execution-hub/bizrules/internal/domain/approval"
)

// ApprovalRepository implements approval.Repository
type ApprovalRepository struct {
	conflicts
	mu     sync.RWMutex
	nextID int64
	items  map[uuid.UUID]*approval.Request
}

// NewApprovalRepository creates an empty repository
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{items: map[uuid.UUID]*approval.Request{}}
}

func (r *ApprovalRepository) Create(_ context.Context, req *approval.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[req.RequestID]; ok {
		return approval.ErrVersionConflict
	}
	r.nextID++
	req.ID = r.nextID
	req.Version = 1
	r.items[req.RequestID] = clone(req)
	return nil
}

func (r *ApprovalRepository) GetByID(_ context.Context, requestID uuid.UUID) (*approval.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.items[requestID]), nil
}

func (r *ApprovalRepository) Update(_ context.Context, req *approval.Request) error {
	if forced, hook := r.take(); forced {
		if hook != nil {
			hook()
		}
		return approval.ErrVersionConflict
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[req.RequestID]
	if !ok {
		return approval.ErrNotFound
	}
	if cur.Version != req.Version {
		return approval.ErrVersionConflict
	}
	req.Version++
	r.items[req.RequestID] = clone(req)
	return nil
}

func (r *ApprovalRepository) List(_ context.Context, filter approval.Filter, limit, offset int) ([]*approval.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*approval.Request
	for _, req := range r.items {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.EntityType != nil && req.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != nil && req.EntityID != *filter.EntityID {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		out = append(out, clone(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
