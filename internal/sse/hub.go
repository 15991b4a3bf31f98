package sse

import (
	"sync"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
)

type Event string

const (
	EventRegenStarted      Event = "InsightRegenStarted"
	EventSectionGenerating Event = "InsightSectionGenerating"
	EventSectionFresh      Event = "InsightSectionFresh"
	EventSectionStale      Event = "InsightSectionStale"
	EventRegenComplete     Event = "InsightRegenComplete"
)

// Message is one progress update for a user's insight regeneration. Data
// carries issue slug, section key and counters so a progress bar can render
// n-of-m without polling.
type Message struct {
	UserID uuid.UUID `json:"user_id"`
	Event  Event     `json:"event"`
	Data   any       `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Outbound chan Message
}

// Hub fans progress messages out to the SSE clients of a single process.
// Cross-instance delivery goes through the redis bus, which forwards into
// each instance's hub.
type Hub struct {
	mu      sync.RWMutex
	log     *logger.Logger
	clients map[uuid.UUID]map[*Client]bool // keyed by user
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "SSEHub"),
		clients: make(map[uuid.UUID]map[*Client]bool),
	}
}

func (h *Hub) Subscribe(userID uuid.UUID) *Client {
	client := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan Message, 16),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[userID] = set
	}
	set[client] = true
	h.log.Debug("SSE client subscribed", "clientID", client.ID, "userID", userID)
	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[client.UserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	close(client.Outbound)
	h.log.Debug("SSE client unsubscribed", "clientID", client.ID)
}

// Broadcast delivers to every client of the message's user. Slow clients are
// skipped rather than blocking the caller.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[msg.UserID] {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Warn("SSE client slow, dropping message", "clientID", client.ID, "event", msg.Event)
		}
	}
}
