package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

// Entities that emit sync events.
const (
	EntityChild       = "child"
	EntityTask        = "task"
	EntityLog         = "log"
	EntityTransaction = "transaction"
	EntityReward      = "reward"
	EntitySnapshot    = "snapshot"
)

// Event is a real-time sync notification pushed to every connected client.
// Dashboards use it to refresh the affected entity without polling.
type Event struct {
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	ID      string         `json:"id,omitempty"`
	ChildID int64          `json:"child_id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewEvent creates an Event with the Type field derived from entity and action.
func NewEvent(entity, action, id string, extra map[string]any) Event {
	return Event{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// BalanceEvent announces that a child's star balance changed.
func BalanceEvent(childID int64, balance int) Event {
	e := NewEvent(EntityChild, "balance_changed", strconv.FormatInt(childID, 10), nil)
	e.ChildID = childID
	e.Extra = map[string]any{"balance": balance}
	return e
}

// LogEvent announces a mission log creation or status change.
func LogEvent(action, logID string, childID int64) Event {
	e := NewEvent(EntityLog, action, logID, nil)
	e.ChildID = childID
	return e
}

// Hub maintains the set of active WebSocket clients and broadcasts events.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// client buffer full, drop the message rather than block
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
