package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Chat
	mux.HandleFunc("/api/chat", s.app.ChatHandler.SubmitHandler)
	mux.HandleFunc("/api/chat/messages", s.app.ChatHandler.MessagesHandler)
	mux.HandleFunc("/api/chat/clear", s.app.ChatHandler.ClearHandler)

	// API routes - Job updates (automation backend callback)
	mux.HandleFunc("/api/updates", s.app.UpdateHandler.UpdatesHandler)

	// API routes - Polling fallback and push delivery
	mux.HandleFunc("/api/status/", s.app.StatusHandler.JobStatusHandler) // GET /{jobId}
	mux.HandleFunc("/api/stream/", s.app.SSEHandler.StreamHandler)       // GET /{jobId} or /broadcast

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all for unknown routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
