package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/execution-hub/bizrules/internal/domain/ticket"
)

// TicketStore implements ticket.Store
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket
	tasks   []*ticket.Task
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: map[string]*ticket.Ticket{}}
}

// PutTicket inserts or replaces a ticket.
func (s *TicketStore) PutTicket(t *ticket.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = clone(t)
}

func (s *TicketStore) GetTicket(_ context.Context, ticketID string) (*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.tickets[ticketID]), nil
}

func (s *TicketStore) AssignTicket(_ context.Context, ticketID, assigneeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return fmt.Errorf("%w: %s", ticket.ErrNotFound, ticketID)
	}
	id := assigneeID
	t.AssigneeID = &id
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *TicketStore) IncrementEscalation(_ context.Context, ticketID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ticket.ErrNotFound, ticketID)
	}
	t.EscalationLevel++
	t.UpdatedAt = time.Now().UTC()
	return t.EscalationLevel, nil
}

func (s *TicketStore) ListOpenByAssignee(_ context.Context, assigneeID string) ([]*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ticket.Ticket
	for _, t := range s.tickets {
		if t.AssigneeID == nil || *t.AssigneeID != assigneeID || t.Status.IsClosed() {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *TicketStore) CreateTask(_ context.Context, task *ticket.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, clone(task))
	return nil
}

// Tasks returns the tasks created for ticketID.
func (s *TicketStore) Tasks(ticketID string) []*ticket.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ticket.Task
	for _, t := range s.tasks {
		if t.TicketID == ticketID {
			out = append(out, clone(t))
		}
	}
	return out
}
