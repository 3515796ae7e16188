// Package realtime fans in-app events out to each user's connected
// WebSocket sessions, optionally across instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/herald/internal/model"
)

const (
	TypeNotification = "notification"
	TypeUnreadCount  = "unread_count"
)

// Message is one event on a user's topic.
type Message struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification,omitempty"`
	Count        *int                `json:"count,omitempty"`
}

// NotificationMessage wraps a new notification.
func NotificationMessage(n *model.Notification) Message {
	return Message{Type: TypeNotification, Notification: n}
}

// UnreadCountMessage carries the user's current unread count.
func UnreadCountMessage(count int) Message {
	return Message{Type: TypeUnreadCount, Count: &count}
}

// Publisher delivers a message to every session of a user.
type Publisher interface {
	Publish(ctx context.Context, userID string, msg Message) error
}

// Hub tracks connected sessions per user.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Session]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*Session]struct{}),
		logger:  logger,
	}
}

// Register adds a session to its user's topic.
func (h *Hub) Register(c *Session) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Session]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a session and closes its outbox.
func (h *Hub) Unregister(c *Session) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.outbox)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// Publish implements Publisher for a single instance.
func (h *Hub) Publish(_ context.Context, userID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	h.Deliver(userID, data)
	return nil
}

// Deliver writes an encoded message to the user's clients and returns how
// many accepted it. Sessions with a full outbox miss the message.
func (h *Hub) Deliver(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.outbox <- data:
			delivered++
		default:
			h.logger.Debug("session outbox full, dropping message", "user_id", userID)
		}
	}
	return delivered
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// UserSessionCount returns the number of sessions of one user.
func (h *Hub) UserSessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
