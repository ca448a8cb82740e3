package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents approval request status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusEscalated Status = "escalated"
)

// Action is the decision an approver records.
type Action string

const (
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
)

// EntityType identifies the business record being approved.
type EntityType string

const (
	EntityQuote     EntityType = "quote"
	EntityProject   EntityType = "project"
	EntityCandidate EntityType = "candidate"
	EntityExpense   EntityType = "expense"
)

// Domain identifies the threshold table that produced the chain.
type Domain string

const (
	DomainDiscount Domain = "discount"
	DomainBudget   Domain = "budget"
	DomainHiring   Domain = "hiring"
	DomainExpense  Domain = "expense"
)

// Outcome is the effect of recording a decision.
type Outcome int

const (
	OutcomeAdvanced Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

// System approver used for auto-approved requests.
const (
	SystemApproverID   = "system"
	SystemApproverName = "System"
)

var (
	ErrNotFound        = errors.New("approval request not found")
	ErrUnauthorized    = errors.New("approver not eligible at current level")
	ErrAlreadyTerminal = errors.New("approval request already closed")
	ErrVersionConflict = errors.New("approval request modified concurrently")
	ErrInvalidChain    = errors.New("invalid approver chain")
	ErrInvalidAction   = errors.New("invalid approval action")
)

// Record is a single approver decision. Records are never modified once appended.
type Record struct {
	ApproverID   string    `json:"approverId"`
	ApproverName string    `json:"approverName"`
	Action       Action    `json:"action"`
	Comment      *string   `json:"comment,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Level        int       `json:"level"`
}

// Metadata carries the resolved chain and domain-specific audit values.
type Metadata struct {
	Domain         Domain           `json:"domain"`
	Value          float64          `json:"value"`
	Chain          []ApproverConfig `json:"chain"`
	AutoApproved   bool             `json:"autoApproved,omitempty"`
	Extra          map[string]any   `json:"extra,omitempty"`
	ExecutedAt     *time.Time       `json:"executedAt,omitempty"`
	ExecutionError *string          `json:"executionError,omitempty"`
}

// Request is an approval request moving through an ordered approver chain.
type Request struct {
	ID          int64      `json:"id"`
	RequestID   uuid.UUID  `json:"requestId"`
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	RequesterID string     `json:"requesterId"`
	Amount      *float64   `json:"amount,omitempty"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Approvals   []Record   `json:"approvals"`
	Metadata    Metadata   `json:"metadata"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewRequest creates a pending request for the given chain.
func NewRequest(entityType EntityType, entityID, requesterID string, amount *float64, description string, md Metadata, now time.Time) (*Request, error) {
	if err := ValidateChain(md.Chain); err != nil {
		return nil, err
	}
	return &Request{
		RequestID:   uuid.New(),
		EntityType:  entityType,
		EntityID:    entityID,
		RequesterID: requesterID,
		Amount:      amount,
		Description: description,
		Status:      StatusPending,
		Approvals:   []Record{},
		Metadata:    md,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidateChain checks that levels are 1-based and contiguous.
func ValidateChain(chain []ApproverConfig) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidChain)
	}
	for i, c := range chain {
		if c.Level != i+1 {
			return fmt.Errorf("%w: position %d has level %d", ErrInvalidChain, i+1, c.Level)
		}
		if _, ok := c.Rule(); !ok {
			return fmt.Errorf("%w: level %d has type %q", ErrInvalidChain, c.Level, c.Type)
		}
	}
	return nil
}

// CurrentLevel is the level the next decision applies to.
func (r *Request) CurrentLevel() int {
	return len(r.Approvals) + 1
}

// RequiredLevels is the chain length.
func (r *Request) RequiredLevels() int {
	return len(r.Metadata.Chain)
}

// IsTerminal reports whether no further decisions are accepted.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// ApproverAt returns the chain entry for level.
func (r *Request) ApproverAt(level int) (ApproverConfig, bool) {
	for _, c := range r.Metadata.Chain {
		if c.Level == level {
			return c, true
		}
	}
	return ApproverConfig{}, false
}

// Apply appends a decision at the current level and updates the status.
func (r *Request) Apply(rec Record) (Outcome, error) {
	if r.IsTerminal() || len(r.Approvals) >= r.RequiredLevels() {
		return 0, ErrAlreadyTerminal
	}
	if rec.Level != r.CurrentLevel() {
		return 0, fmt.Errorf("%w: decision for level %d, current level %d", ErrUnauthorized, rec.Level, r.CurrentLevel())
	}
	if rec.Action != ActionApproved && rec.Action != ActionRejected {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, rec.Action)
	}
	r.Approvals = append(r.Approvals, rec)
	r.UpdatedAt = rec.Timestamp
	switch {
	case rec.Action == ActionRejected:
		r.Status = StatusRejected
		return OutcomeRejected, nil
	case rec.Level == r.RequiredLevels():
		r.Status = StatusApproved
		return OutcomeApproved, nil
	default:
		r.Status = StatusPending
		return OutcomeAdvanced, nil
	}
}

// ParseAction validates a textual decision.
func ParseAction(v string) (Action, error) {
	switch Action(v) {
	case ActionApproved, ActionRejected:
		return Action(v), nil
	case "approve":
		return ActionApproved, nil
	case "reject":
		return ActionRejected, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, v)
	}
}
