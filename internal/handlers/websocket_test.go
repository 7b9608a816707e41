package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/models"
)

func dialTestHub(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHelloAndBroadcast(t *testing.T) {
	h := NewWebSocketHandler(&common.WSConfig{}, arbor.NewLogger())
	conn := dialTestHub(t, h)

	// Hello frame carries the server instance id for restart detection.
	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])
	assert.NotEmpty(t, hello["server_instance_id"])

	require.Eventually(t, func() bool {
		return h.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	h.BroadcastUpdate(models.JobUpdate{
		JobID:  "job_ws",
		Status: models.JobStatusCompleted,
		Answer: "pushed",
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type    string           `json:"type"`
		Payload models.JobUpdate `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "job_update", frame.Type)
	assert.Equal(t, "job_ws", frame.Payload.JobID)
	assert.Equal(t, "pushed", frame.Payload.Answer)
}

func TestWebSocketThrottleAlwaysDeliversTerminal(t *testing.T) {
	h := NewWebSocketHandler(&common.WSConfig{UpdateThrottle: "1h"}, arbor.NewLogger())
	conn := dialTestHub(t, h)

	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))

	require.Eventually(t, func() bool {
		return h.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	// First non-terminal consumes the throttle token; the second is dropped.
	h.BroadcastUpdate(models.JobUpdate{JobID: "job_t", Status: models.JobStatusInProgress})
	h.BroadcastUpdate(models.JobUpdate{JobID: "job_t", Status: models.JobStatusInProgress})
	// Terminal bypasses the throttle.
	h.BroadcastUpdate(models.JobUpdate{JobID: "job_t", Status: models.JobStatusCompleted, Answer: "done"})

	received := []models.JobStatus{}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for len(received) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame struct {
			Payload models.JobUpdate `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		received = append(received, frame.Payload.Status)
	}

	assert.Equal(t, models.JobStatusInProgress, received[0])
	assert.Equal(t, models.JobStatusCompleted, received[1])
}

func TestWebSocketClientDisconnect(t *testing.T) {
	h := NewWebSocketHandler(&common.WSConfig{}, arbor.NewLogger())
	conn := dialTestHub(t, h)

	require.Eventually(t, func() bool {
		return h.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
}
