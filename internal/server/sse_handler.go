package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/logging"
	"relay/internal/taskevent"
)

const defaultHeartbeatInterval = 30 * time.Second

// SSEHandler serves the Server-Sent Events stream for a scope.
type SSEHandler struct {
	broadcaster *Broadcaster
	logger      logging.Logger
	heartbeat   time.Duration
}

// NewSSEHandler creates a new SSE handler. heartbeat <= 0 selects the default.
func NewSSEHandler(broadcaster *Broadcaster, logger logging.Logger, heartbeat time.Duration) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &SSEHandler{
		broadcaster: broadcaster,
		logger:      logging.OrNop(logger),
		heartbeat:   heartbeat,
	}
}

// HandleStream streams scope events over SSE. The first frame is always the
// connection acknowledgement carrying the scope id; afterwards each task
// event goes out as one data frame, with comment lines as heartbeats.
func (h *SSEHandler) HandleStream(c *gin.Context) {
	scopeID := c.Param("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id required"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	h.logger.Info("SSE connection established for scope: %s", scopeID)

	clientChan := make(chan taskevent.Event, 100)
	h.broadcaster.RegisterClient(scopeID, clientChan)
	defer h.broadcaster.UnregisterClient(scopeID, clientChan)

	// Connection acknowledgement, always the first frame.
	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"type\":\"connected\",\"scopeId\":%q}\n\n", scopeID); err != nil {
		h.logger.Error("Failed to send connection ack: %v", err)
		return
	}
	flusher.Flush()

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

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				h.logger.Error("Failed to send SSE message: %v", err)
				return
			}
			if event.Status.IsTerminal() {
				if _, err := fmt.Fprintf(w, "data: {\"type\":\"done\",\"scopeId\":%q}\n\n", scopeID); err != nil {
					h.logger.Error("Failed to send done frame: %v", err)
					return
				}
			}
			flusher.Flush()

		case <-ticker.C:
			// Keep the connection alive through idle stretches.
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				h.logger.Error("Failed to send heartbeat: %v", err)
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			h.logger.Info("SSE connection closed for scope: %s", scopeID)
			return
		}
	}
}
