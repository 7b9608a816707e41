package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
	"github.com/ternarybob/courier/internal/services/ingress"
)

// SSEHandler streams job updates over Server-Sent Events. One stream per job
// id; the reserved "broadcast" id receives every update and never closes on a
// terminal status.
type SSEHandler struct {
	ingress    *ingress.Service
	subscriber interfaces.UpdateSubscriber
	heartbeat  time.Duration
	logger     arbor.ILogger
}

type ssePing struct {
	Timestamp time.Time `json:"timestamp"`
}

func NewSSEHandler(ingressService *ingress.Service, subscriber interfaces.UpdateSubscriber, heartbeat time.Duration, logger arbor.ILogger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHandler{
		ingress:    ingressService,
		subscriber: subscriber,
		heartbeat:  heartbeat,
		logger:     logger,
	}
}

// StreamHandler handles GET /api/stream/{jobId}. Job-specific streams replay
// an already-terminal record immediately (closing the lost-update race
// between trigger response and subscription) and close after delivering a
// terminal event. Broadcast streams stay open until the client disconnects.
func (h *SSEHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathSuffix(r, "/api/stream")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Flush headers immediately to trigger the browser's EventSource.onopen
	flusher.Flush()

	isBroadcast := jobID == models.BroadcastJobID

	// Subscribe before the terminal-replay read so an update landing between
	// the two is not lost.
	sub := h.subscriber.Subscribe(jobID)
	defer h.subscriber.Unsubscribe(sub)

	if !isBroadcast {
		record, err := h.ingress.Lookup(r.Context(), jobID)
		if err == nil && record.IsTerminal() {
			h.sendEvent(w, flusher, "update", record)
			h.logger.Debug().
				Str("job_id", jobID).
				Str("status", string(record.Status)).
				Msg("Terminal record replayed to late subscriber")
			return
		}
	}

	h.logger.Debug().Str("job_id", jobID).Msg("SSE stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("job_id", jobID).Msg("SSE client disconnected")
			return

		case update, ok := <-sub.C:
			if !ok {
				return
			}
			h.sendEvent(w, flusher, "update", update)
			if update.IsTerminal() && !isBroadcast {
				h.logger.Debug().
					Str("job_id", jobID).
					Str("status", string(update.Status)).
					Msg("SSE stream closed after terminal update")
				return
			}

		case <-ticker.C:
			h.sendEvent(w, flusher, "ping", ssePing{Timestamp: time.Now()})
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", event).Msg("Failed to encode SSE event")
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
