// -----------------------------------------------------------------------
// WebSocket broadcast hub - pushes every ingested job update to connected UIs
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler broadcasts every ingested update to connected clients.
// Non-terminal updates pass through a rate limiter so a chatty workflow does
// not flood the UI; terminal updates are always delivered.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	updateThrottler  *rate.Limiter
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

type wsEnvelope struct {
	Type             string      `json:"type"`
	ServerInstanceID string      `json:"server_instance_id"`
	Timestamp        time.Time   `json:"timestamp"`
	Payload          interface{} `json:"payload,omitempty"`
}

func NewWebSocketHandler(config *common.WSConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	if config != nil && config.UpdateThrottle != "" {
		if duration, err := time.ParseDuration(config.UpdateThrottle); err == nil && duration > 0 {
			h.updateThrottler = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("interval", config.UpdateThrottle).
				Msg("Throttler initialized for non-terminal update broadcasts")
		} else if err != nil {
			logger.Warn().
				Err(err).
				Str("interval", config.UpdateThrottle).
				Msg("Failed to parse update throttle interval - throttler disabled")
		}
	}

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// BroadcastUpdate pushes a job update to every connected client. Terminal
// updates bypass the throttler so no completion is ever dropped.
func (h *WebSocketHandler) BroadcastUpdate(update models.JobUpdate) {
	if !update.IsTerminal() && h.updateThrottler != nil && !h.updateThrottler.Allow() {
		return
	}

	h.broadcast(wsEnvelope{
		Type:             "job_update",
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now(),
		Payload:          update,
	})
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	h.sendToClient(conn, wsEnvelope{
		Type:             "hello",
		ServerInstanceID: h.serverInstanceID,
		Timestamp:        time.Now(),
	})
}

func (h *WebSocketHandler) broadcast(env wsEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", env.Type).Msg("Failed to encode WebSocket message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		mutex := h.clientMutex[conn]
		mutex.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug().Err(err).Msg("Failed to write to WebSocket client")
		}
		mutex.Unlock()
	}
}

func (h *WebSocketHandler) sendToClient(conn *websocket.Conn, env wsEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to send WebSocket message")
	}
}
