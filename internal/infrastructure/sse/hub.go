package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/execution-hub/bizrules/internal/domain/notification"
)

// EventNotification is the SSE event name for user notifications.
const EventNotification = "notification"

// Hub tracks live SSE connections per user and doubles as a notification sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
	// byUser indexes client ids by the user they stream for.
	byUser map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Register adds client, closing any previous connection that used the same client id.
func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		h.drop(old)
	}
	h.clients[client.ClientID] = client
	if client.UserID != nil {
		ids := h.byUser[*client.UserID]
		if ids == nil {
			ids = make(map[string]struct{})
			h.byUser[*client.UserID] = ids
		}
		ids[client.ClientID] = struct{}{}
	}
}

// Remove drops client unless it has already been replaced by a newer registration.
func (h *Hub) Remove(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.ClientID] == client {
		h.drop(client)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserConnections reports how many live connections userID has.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Send implements notification.Sink. Users without a live connection are skipped; an
// error is returned only when every connection of the user had a full buffer.
func (h *Hub) Send(_ context.Context, n *notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := notification.NewSSEMessage(EventNotification, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.byUser[n.UserID]
	delivered := 0
	for id := range ids {
		if trySend(h.clients[id], msg) {
			delivered++
		}
	}
	if len(ids) > 0 && delivered == 0 {
		return fmt.Errorf("user %s: %w", n.UserID, notification.ErrChannelFull)
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.drop(c)
	}
}

// drop closes c and removes it from both indexes. Callers hold h.mu.
func (h *Hub) drop(c *notification.SSEClient) {
	c.Close()
	delete(h.clients, c.ClientID)
	if c.UserID == nil {
		return
	}
	if ids := h.byUser[*c.UserID]; ids != nil {
		delete(ids, c.ClientID)
		if len(ids) == 0 {
			delete(h.byUser, *c.UserID)
		}
	}
}

func trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
