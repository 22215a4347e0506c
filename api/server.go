package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/wricardo/relaychat/chat/config"
	"github.com/wricardo/relaychat/chat/protocol"
	"github.com/wricardo/relaychat/chat/service"
	"github.com/wricardo/relaychat/validate"
)

// Hub is the WebSocket side of the server
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Count() int
}

// Server represents the REST API server
type Server struct {
	service  service.ChatService
	hub      Hub
	settings config.Settings
	logger   *slog.Logger
	router   *mux.Router
}

// NewServer creates a new API server
func NewServer(chatService service.ChatService, hub Hub, settings config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service:  chatService,
		hub:      hub,
		settings: settings,
		logger:   logger.With("component", "api"),
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/participants", s.handleListParticipants).Methods("GET")
	api.HandleFunc("/messages", s.handlePostMessage).Methods("POST")
	api.HandleFunc("/images", s.handlePostImage).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handle mounts an extra handler, such as the MCP endpoint, on the router.
func (s *Server) Handle(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps validation failures to 400 and everything else to 500.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, validate.ErrInvalidInput) || errors.Is(err, service.ErrEmptyAttachment) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	respondError(w, http.StatusInternalServerError, err.Error())
}

// Participant Handlers

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Participants(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if info.Names == nil {
		info.Names = []string{}
	}

	respondJSON(w, http.StatusOK, info)
}

// Message Handlers

// PostMessageRequest submits a text message on behalf of displayName.
type PostMessageRequest struct {
	DisplayName string `json:"displayName"`
	Body        string `json:"body"`
}

// PostImageRequest submits an image message on behalf of displayName.
type PostImageRequest struct {
	DisplayName   string `json:"displayName"`
	AttachmentRef string `json:"attachmentRef"`
	Caption       string `json:"caption,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	author, err := s.author(req.DisplayName)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	body, ok, err := validate.Body(req.Body, s.settings.MaxBodyRunes)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msg, err := s.service.SubmitText(r.Context(), author, body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handlePostImage(w http.ResponseWriter, r *http.Request) {
	var req PostImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	author, err := s.author(req.DisplayName)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if err := validate.Attachment(req.AttachmentRef, s.settings.MaxImageBytes); err != nil {
		s.respondServiceError(w, err)
		return
	}
	caption, _, err := validate.Body(req.Caption, s.settings.MaxBodyRunes)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	msg, err := s.service.SubmitImage(r.Context(), author, req.AttachmentRef, caption)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

// author validates a caller-supplied name; an empty one posts as Anonymous.
func (s *Server) author(displayName string) (string, error) {
	if displayName == "" {
		return protocol.AnonymousAuthor, nil
	}
	return validate.DisplayName(displayName)
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket unavailable", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeWS(w, r)
}

// HealthResponse reports liveness and load.
type HealthResponse struct {
	Status       string `json:"status"`
	Connections  int    `json:"connections"`
	Participants int    `json:"participants"`
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.hub != nil {
		resp.Connections = s.hub.Count()
	}
	if info, err := s.service.Participants(r.Context()); err == nil {
		resp.Participants = info.Count
	}

	respondJSON(w, http.StatusOK, resp)
}
