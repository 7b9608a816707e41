package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/services/ingress"
)

// UpdateHandler receives job update documents from the automation backend.
type UpdateHandler struct {
	ingress *ingress.Service
	logger  arbor.ILogger
}

func NewUpdateHandler(ingressService *ingress.Service, logger arbor.ILogger) *UpdateHandler {
	return &UpdateHandler{
		ingress: ingressService,
		logger:  logger,
	}
}

// UpdatesHandler handles POST /api/updates. The body is an arbitrary JSON
// object; field aliasing and status inference happen in the ingress service.
// Accepted updates return {"success":true} even with no subscribers waiting.
func (h *UpdateHandler) UpdatesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := h.ingress.Ingest(r.Context(), payload); err != nil {
		if errors.Is(err, ingress.ErrEmptyUpdate) || errors.Is(err, ingress.ErrNoStatus) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to ingest update")
		WriteError(w, http.StatusInternalServerError, "failed to process update")
		return
	}

	WriteSuccess(w)
}
