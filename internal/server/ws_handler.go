package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relay/internal/logging"
	"relay/internal/taskevent"
)

// WSHandler serves the WebSocket variant of the scope event stream. The
// frames are the same JSON shapes as the SSE stream, one per text message.
type WSHandler struct {
	broadcaster *Broadcaster
	logger      logging.Logger
	heartbeat   time.Duration
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler. heartbeat <= 0 selects the
// default.
func NewWSHandler(broadcaster *Broadcaster, logger logging.Logger, heartbeat time.Duration) *WSHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &WSHandler{
		broadcaster: broadcaster,
		logger:      logging.OrNop(logger),
		heartbeat:   heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleStream upgrades the connection and streams scope events until the
// client goes away.
func (h *WSHandler) HandleStream(c *gin.Context) {
	scopeID := c.Param("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed for scope %s: %v", scopeID, err)
		return
	}
	defer conn.Close()

	h.logger.Info("WebSocket connection established for scope: %s", scopeID)

	clientChan := make(chan taskevent.Event, 100)
	h.broadcaster.RegisterClient(scopeID, clientChan)
	defer h.broadcaster.UnregisterClient(scopeID, clientChan)

	// Reader goroutine: drains client messages and surfaces disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ack := map[string]string{"type": "connected", "scopeId": scopeID}
	if err := conn.WriteJSON(ack); err != nil {
		h.logger.Error("Failed to send connection ack: %v", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event := <-clientChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to serialize event: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("Failed to send WebSocket message: %v", err)
				return
			}
			if event.Status.IsTerminal() {
				doneFrame := map[string]string{"type": "done", "scopeId": scopeID}
				if err := conn.WriteJSON(doneFrame); err != nil {
					h.logger.Error("Failed to send done frame: %v", err)
					return
				}
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Error("Failed to send ping: %v", err)
				return
			}

		case <-done:
			h.logger.Info("WebSocket connection closed for scope: %s", scopeID)
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}
