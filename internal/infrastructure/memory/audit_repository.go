package memory

import (
	"context"
	"sync"

	"github.com/execution-hub/bizrules/internal/domain/audit"
)

// AuditRepository implements audit.Repository
type AuditRepository struct {
	mu     sync.RWMutex
	nextID int64
	events []*audit.Event
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.events = append(r.events, clone(e))
	return nil
}

func (r *AuditRepository) ListByEntity(_ context.Context, entityType audit.EntityType, entityID string) ([]*audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.Event
	for _, e := range r.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, clone(e))
		}
	}
	return out, nil
}
