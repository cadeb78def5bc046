package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub manages WebSocket connections and their party subscriptions.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // party id -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *GroupMessage
	authorize  func(token string) bool
	mu         sync.RWMutex
	logger     *zap.Logger
}

// GroupMessage represents a message to broadcast to a group.
type GroupMessage struct {
	Group   string
	Payload []byte
}

// NewHub creates a new Hub. authorize decides which access tokens may
// connect; nil accepts any non-empty token.
func NewHub(authorize func(token string) bool, logger *zap.Logger) *Hub {
	if authorize == nil {
		authorize = func(string) bool { return true }
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *GroupMessage, 256),
		authorize:  authorize,
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.groups[msg.Group] {
				select {
				case client.send <- msg.Payload:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// Buffer full, disconnect
			for _, c := range slow {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for group := range client.groups {
		if clients, ok := h.groups[group]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.groups, group)
			}
		}
	}
	close(client.send)
	h.logger.Debug("client unregistered", zap.String("connID", client.connID))
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// JoinGroup adds a client to a party's group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a party's group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// GetActiveGroups returns all parties with at least one subscriber.
func (h *Hub) GetActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// Nudge tells every client following partyID that eventID was appended.
// It never blocks; nudges are dropped when the broadcast queue is full.
func (h *Hub) Nudge(partyID string, eventID uint64) {
	msg := &GroupMessage{Group: partyID, Payload: buildNudgeMessage(partyID, eventID)}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("nudge dropped",
			zap.String("party_id", partyID),
			zap.Uint64("event_id", eventID))
	}
}
