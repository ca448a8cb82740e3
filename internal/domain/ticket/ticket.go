package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Priority represents ticket priority.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists every priority from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Weight is the workload contribution of an open ticket with this priority.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Status represents ticket status.
type Status string

const (
	StatusOpen            Status = "open"
	StatusInProgress      Status = "in_progress"
	StatusWaitingCustomer Status = "waiting_customer"
	StatusResolved        Status = "resolved"
	StatusClosed          Status = "closed"
)

// IsClosed reports whether the ticket no longer needs SLA tracking.
func (s Status) IsClosed() bool {
	return s == StatusResolved || s == StatusClosed
}

var ErrNotFound = errors.New("ticket not found")

// Ticket is the support ticket an SLA tracker measures.
type Ticket struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	Priority        Priority  `json:"priority"`
	Status          Status    `json:"status"`
	AssigneeID      *string   `json:"assigneeId,omitempty"`
	ContractID      *string   `json:"contractId,omitempty"`
	AccountID       *string   `json:"accountId,omitempty"`
	EscalationLevel int       `json:"escalationLevel"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Task is a follow-up work item spawned by an escalation.
type Task struct {
	TaskID      uuid.UUID `json:"taskId"`
	TicketID    string    `json:"ticketId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AssigneeID  *string   `json:"assigneeId,omitempty"`
	Priority    Priority  `json:"priority"`
	DueAt       time.Time `json:"dueAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store reads and updates tickets. Absent tickets are returned as nil, nil. Writes touch
// only the named columns so concurrent status changes are never overwritten.
type Store interface {
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
	AssignTicket(ctx context.Context, ticketID, assigneeID string) error
	IncrementEscalation(ctx context.Context, ticketID string) (int, error)
	ListOpenByAssignee(ctx context.Context, assigneeID string) ([]*Ticket, error)
	CreateTask(ctx context.Context, task *Task) error
}

// Workload sums the priority weights of open tickets.
func Workload(tickets []*Ticket) int {
	total := 0
	for _, t := range tickets {
		if t.Status.IsClosed() {
			continue
		}
		total += t.Priority.Weight()
	}
	return total
}
