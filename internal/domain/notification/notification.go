package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Priority represents the notification priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Type classifies what a notification is about
type Type string

const (
	TypeApprovalRequired Type = "approval_required"
	TypeApprovalApproved Type = "approval_approved"
	TypeApprovalRejected Type = "approval_rejected"
	TypeApprovalProgress Type = "approval_progress"
	TypeBudgetAlert      Type = "budget_alert"
	TypeSLAWarning       Type = "sla_warning"
	TypeSLABreach        Type = "sla_breach"
	TypeSLAMet           Type = "sla_met"
	TypeSLAEscalation    Type = "sla_escalation"
	TypeTicketReassigned Type = "ticket_reassigned"
	TypeTaskCreated      Type = "task_created"
)

var ErrChannelFull = errors.New("SSE message channel full")

// Notification is a message addressed to a single user
type Notification struct {
	NotificationID uuid.UUID      `json:"notificationId"`
	UserID         string         `json:"userId"`
	Type           Type           `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	EntityType     string         `json:"entityType"`
	EntityID       string         `json:"entityId"`
	Priority       Priority       `json:"priority"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewNotification creates a new notification
func NewNotification(userID string, typ Type, priority Priority, title, message string) *Notification {
	return &Notification{
		NotificationID: uuid.New(),
		UserID:         userID,
		Type:           typ,
		Title:          title,
		Message:        message,
		Priority:       priority,
		CreatedAt:      time.Now().UTC(),
	}
}

// ForEntity sets the entity the notification refers to
func (n *Notification) ForEntity(entityType, entityID string) *Notification {
	n.EntityType = entityType
	n.EntityID = entityID
	return n
}

// WithMetadata merges metadata into the notification
func (n *Notification) WithMetadata(md map[string]any) *Notification {
	if len(md) == 0 {
		return n
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any, len(md))
	}
	for k, v := range md {
		n.Metadata[k] = v
	}
	return n
}

// Clone returns a copy addressed to another user
func (n *Notification) Clone(userID string) *Notification {
	c := *n
	c.NotificationID = uuid.New()
	c.UserID = userID
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      *string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
