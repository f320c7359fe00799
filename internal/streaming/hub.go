// Package streaming handles WebSocket connections for real-time session
// event streaming. Clients subscribe to session identifiers and receive the
// orchestrator's bus events as they happen.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/events/bus"
)

// Client represents a WebSocket client connection
type Client struct {
	ID         string
	conn       *websocket.Conn
	sessionIDs map[string]bool // Sessions this client is subscribed to
	send       chan []byte
	hub        *Hub
	mu         sync.RWMutex
	logger     *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:         id,
		conn:       conn,
		sessionIDs: make(map[string]bool),
		send:       make(chan []byte, 256),
		hub:        hub,
		logger:     log.WithFields(zap.String("client_id", id)),
	}
}

// Hub manages all WebSocket clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by session ID for efficient message routing
	sessionClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

// BroadcastMessage contains an event to broadcast
type BroadcastMessage struct {
	SessionID string
	Event     *bus.Event
}

// NewHub creates a new WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		sessionClients: make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *BroadcastMessage, 256),
		logger:         log.WithFields(zap.String("component", "websocket_hub")),
	}
}

// AttachBus forwards all session events from the bus into the hub. The
// returned subscription should be released on shutdown.
func (h *Hub) AttachBus(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe("session.*", func(ctx context.Context, event *bus.Event) error {
		sessionID, _ := event.Data["session_id"].(string)
		if sessionID == "" {
			return nil
		}
		h.Broadcast(sessionID, event)
		return nil
	})
}

// Run starts the hub processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.sessionClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.dropSubscriptionsLocked(client)
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.sessionClients[msg.SessionID]
			h.mu.RUnlock()

			if len(clients) == 0 {
				continue
			}

			data, err := json.Marshal(msg.Event)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}

			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client send buffer is full, close connection
					h.mu.Lock()
					close(client.send)
					delete(h.clients, client)
					h.dropSubscriptionsLocked(client)
					h.mu.Unlock()
				}
			}
		}
	}
}

// dropSubscriptionsLocked removes a client from all session subscriptions.
// Callers must hold h.mu.
func (h *Hub) dropSubscriptionsLocked(client *Client) {
	for sessionID := range client.sessionIDs {
		if clients, ok := h.sessionClients[sessionID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.sessionClients, sessionID)
			}
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends an event to all clients subscribed to a session
func (h *Hub) Broadcast(sessionID string, event *bus.Event) {
	h.broadcast <- &BroadcastMessage{
		SessionID: sessionID,
		Event:     event,
	}
}

// SubscribeClient subscribes a client to a session
func (h *Hub) SubscribeClient(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessionClients[sessionID]; !ok {
		h.sessionClients[sessionID] = make(map[*Client]bool)
	}
	h.sessionClients[sessionID][client] = true
	h.logger.Debug("Client subscribed to session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// UnsubscribeClient unsubscribes a client from a session
func (h *Hub) UnsubscribeClient(client *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.sessionClients[sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessionClients, sessionID)
		}
	}
	h.logger.Debug("Client unsubscribed from session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetSessionSubscriberCount returns the number of clients subscribed to a session
func (h *Hub) GetSessionSubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.sessionClients[sessionID]; ok {
		return len(clients)
	}
	return 0
}
