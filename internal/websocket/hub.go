package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/cymtrack/internal/model"
)

const (
	EntitySubmission = "submission"
	EntityReport     = "report"
)

const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionArchived  = "archived"
	ActionRestored  = "restored"
	ActionDeleted   = "deleted"
	ActionPublished = "published"
	ActionFailed    = "failed"
)

// Message is a change notification pushed to connected admin dashboards.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// SubmissionMessage describes a change to one submission record.
func SubmissionMessage(action string, s model.Submission) Message {
	return NewMessage(EntitySubmission, action, s.ID, map[string]any{
		"member_name":     s.MemberName,
		"year":            s.Year,
		"month":           s.Month,
		"submission_type": s.SubmissionType,
		"status":          s.Status,
		"devotion_count":  s.DevotionCount,
	})
}

// ReportMessage describes the outcome of a report publish.
func ReportMessage(action string, r model.ReportUpload) Message {
	extra := map[string]any{
		"year":     r.Year,
		"month":    r.Month,
		"archived": r.Archived,
		"filename": r.Filename,
	}
	if r.ErrorMessage != "" {
		extra["error"] = r.ErrorMessage
	}
	return NewMessage(EntityReport, action, r.ID, extra)
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
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

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
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
			// Client buffer full, drop message
		}
	}
}

// DisconnectSession drops every client opened under an admin session.
func (h *Hub) DisconnectSession(sessionID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.clients {
		if c.sessionID == sessionID {
			delete(h.clients, c)
			close(c.send)
			n++
		}
	}
	return n
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
