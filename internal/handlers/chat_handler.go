package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/models"
	"github.com/ternarybob/courier/internal/services/dispatch"
)

// maxSubmissionBytes bounds the multipart form held in memory per submission.
const maxSubmissionBytes = 32 << 20

// ChatHandler serves the conversation surface: submit, read, clear.
type ChatHandler struct {
	orchestrator *dispatch.Orchestrator
	logger       arbor.ILogger
}

func NewChatHandler(orchestrator *dispatch.Orchestrator, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// SubmitHandler handles POST /api/chat. The multipart form carries sessionId,
// message, optional files[] attachments, and an optional voice recording. The
// response is the turns created by this submission; a provisional turn is
// finalized asynchronously and picked up via the push channels or a reload.
func (h *ChatHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := r.ParseMultipartForm(maxSubmissionBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = r.FormValue("session_id")
	}
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	message := r.FormValue("message")

	var files []dispatch.UploadFile
	var voice []byte
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files[]"] {
			content, err := readFormFile(header)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "failed to read attachment "+header.Filename)
				return
			}
			files = append(files, dispatch.UploadFile{Name: header.Filename, Content: content})
		}

		if headers := r.MultipartForm.File["voice"]; len(headers) > 0 {
			content, err := readFormFile(headers[0])
			if err != nil {
				WriteError(w, http.StatusBadRequest, "failed to read voice recording")
				return
			}
			voice = content
		}
	}

	// A voice-only or attachment-only submission is fine; an entirely empty
	// one is not.
	if message == "" && len(files) == 0 && voice == nil {
		WriteError(w, http.StatusBadRequest, "message, files, or a voice recording is required")
		return
	}

	messages, err := h.orchestrator.Submit(r.Context(), sessionID, message, files, voice)
	if err != nil {
		if errors.Is(err, dispatch.ErrBackendURLMissing) {
			WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		// Transport failures are already recorded as an error turn; return
		// it so the client renders the failure in the conversation.
		WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success":  false,
			"error":    err.Error(),
			"messages": messages,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": messages,
	})
}

// MessagesHandler handles GET /api/chat/messages?session_id=.
func (h *ChatHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	messages := h.orchestrator.Messages(sessionID)
	if messages == nil {
		messages = []*models.ChatMessage{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// ClearHandler handles POST /api/chat/clear. Clearing tears down the
// session's subscriptions and watchdogs along with its messages.
func (h *ChatHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	h.orchestrator.Clear(sessionID)
	WriteSuccess(w)
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
