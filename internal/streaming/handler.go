package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The orchestrator sits behind the application gateway, which owns
	// origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections to WebSocket clients on the hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a WebSocket handler for the hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "websocket_handler")),
	}
}

// Serve handles a WebSocket upgrade request
// GET /ws
func (h *Handler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.hub.Register(client)

	// Pre-subscribe from the query string so clients can follow a session
	// without a subscription round trip.
	if sessionID := c.Query("session_id"); sessionID != "" {
		client.Subscribe(sessionID)
	}

	go client.WritePump()
	go client.ReadPump()
}
