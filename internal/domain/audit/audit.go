package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the audited record collection.
type EntityType string

const (
	EntityTypeApprovalRequest EntityType = "approval_request"
	EntityTypeSLATracker      EntityType = "sla_tracker"
)

// Action is the audited transition.
type Action string

const (
	ActionCreate        Action = "CREATE"
	ActionAutoApprove   Action = "AUTO_APPROVE"
	ActionLevelApprove  Action = "LEVEL_APPROVE"
	ActionApprove       Action = "APPROVE"
	ActionReject        Action = "REJECT"
	ActionExecute       Action = "EXECUTE"
	ActionExecuteFailed Action = "EXECUTE_FAILED"
	ActionPause         Action = "PAUSE"
	ActionResume        Action = "RESUME"
	ActionFirstResponse Action = "FIRST_RESPONSE"
	ActionResolution    Action = "RESOLUTION"
	ActionWarning       Action = "WARNING"
	ActionBreach        Action = "BREACH"
	ActionEscalate      Action = "ESCALATE"
	ActionReassign      Action = "REASSIGN"
	ActionCreateTask    Action = "CREATE_TASK"
	ActionClose         Action = "CLOSE"
)

// SystemActor is used for transitions not caused by a person.
const SystemActor = "system"

var ErrMissingEntity = errors.New("audit entry requires entity type and id")

// Entry describes an event before it is persisted.
type Entry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Actor      string
	Details    map[string]any
}

// Event is an immutable audit record.
type Event struct {
	ID         int64           `json:"id"`
	EventID    uuid.UUID       `json:"eventId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor"`
	Details    json.RawMessage `json:"details,omitempty"`
	Signature  []byte          `json:"signature,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewEvent builds an Event from an Entry.
func NewEvent(entry *Entry) (*Event, error) {
	if entry == nil || entry.EntityType == "" || entry.EntityID == "" {
		return nil, ErrMissingEntity
	}
	actor := entry.Actor
	if actor == "" {
		actor = SystemActor
	}
	var details json.RawMessage
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, err
		}
		details = b
	}
	return &Event{
		EventID:    uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      actor,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Repository persists audit events.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Event, error)
}
