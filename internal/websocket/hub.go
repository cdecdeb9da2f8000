package websocket

import (
	"fmt"
	"log/slog"
	"sync"
)

// Message is a change notification pushed to a user's subscribers.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, id string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

const sendBufferSize = 16

type subscriber struct {
	userID string
	send   chan Message
}

// Hub fans messages out to per-user subscribers: WebSocket clients and
// in-process listeners alike.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener for userID's messages. The returned cancel
// func unregisters it and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(userID string) (<-chan Message, func()) {
	s := &subscriber{userID: userID, send: make(chan Message, sendBufferSize)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.send, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.send)
			h.mu.Unlock()
		})
	}
}

// Publish sends msg to every subscriber of userID.
func (h *Hub) Publish(userID string, msg Message) {
	h.deliver(msg, func(s *subscriber) bool { return s.userID == userID })
}

// Broadcast sends msg to every subscriber.
func (h *Hub) Broadcast(msg Message) {
	h.deliver(msg, func(*subscriber) bool { return true })
}

func (h *Hub) deliver(msg Message, match func(*subscriber) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if !match(s) {
			continue
		}
		select {
		case s.send <- msg:
		default:
			// Subscriber buffer full, drop rather than block the publisher.
			h.logger.Debug("dropped message", "user_id", s.userID, "type", msg.Type)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
