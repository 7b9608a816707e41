package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/services/ingress"
)

// StatusHandler serves the polling fallback read model.
type StatusHandler struct {
	ingress *ingress.Service
	logger  arbor.ILogger
}

func NewStatusHandler(ingressService *ingress.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		ingress: ingressService,
		logger:  logger,
	}
}

// JobStatusHandler handles GET /api/status/{jobId}. A pure read: it never
// mutates state. Unknown job ids report pending, indistinguishable from a job
// whose first update has not arrived yet.
func (h *StatusHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathSuffix(r, "/api/status")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	record, err := h.ingress.Lookup(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Status lookup failed")
		WriteError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}

	WriteJSON(w, http.StatusOK, record)
}
