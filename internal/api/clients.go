package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavrielSorek/innerview-server/internal/domain"
	"github.com/gavrielSorek/innerview-server/internal/identity"
	"github.com/gavrielSorek/innerview-server/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ClientHandler handles client records, session notes and usage summaries.
type ClientHandler struct {
	*Handler
}

// NewClientHandler creates a client handler over the base handler.
func NewClientHandler(base *Handler) *ClientHandler {
	return &ClientHandler{Handler: base}
}

// RegisterRoutes registers the CRUD routes.
func (h *ClientHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/clients", func(r chi.Router) {
		r.Post("/", h.CreateClient)
		r.Get("/", h.ListClients)
		r.Get("/{clientID}", h.GetClient)
		r.Put("/{clientID}", h.UpdateClient)
		r.Delete("/{clientID}", h.DeleteClient)
	})
	r.Route("/api/sessions/{sessionID}/notes", func(r chi.Router) {
		r.Post("/", h.AddNote)
		r.Get("/", h.ListNotes)
	})
	r.Get("/api/usage", h.GetUsage)
}

type clientBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Notes string `json:"notes"`
}

// CreateClient stores a new client record for the caller.
func (h *ClientHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body clientBody
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now()
	client := &domain.Client{
		ClientID:  uuid.NewString(),
		UserID:    userID,
		Name:      body.Name,
		Email:     body.Email,
		Notes:     body.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateClient(r.Context(), client); err != nil {
		slog.Error("failed to create client", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create client")
		return
	}
	JSON(w, http.StatusCreated, client)
}

// ListClients returns the caller's clients.
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	clients, err := h.repo.ListClients(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list clients", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list clients")
		return
	}
	if clients == nil {
		clients = []*domain.Client{}
	}
	JSON(w, http.StatusOK, clients)
}

// GetClient returns one client record.
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	client, err := h.repo.GetClient(r.Context(), clientID)
	if err != nil {
		slog.Error("failed to get client", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get client")
		return
	}
	if client == nil || client.UserID != identity.UserIDFromContext(r.Context()) {
		Error(w, http.StatusNotFound, "client not found")
		return
	}
	JSON(w, http.StatusOK, client)
}

// UpdateClient updates one client record.
func (h *ClientHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	userID := identity.UserIDFromContext(r.Context())

	existing, err := h.repo.GetClient(r.Context(), clientID)
	if err != nil {
		slog.Error("failed to get client", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update client")
		return
	}
	if existing == nil || existing.UserID != userID {
		Error(w, http.StatusNotFound, "client not found")
		return
	}

	var body clientBody
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name != "" {
		existing.Name = body.Name
	}
	existing.Email = body.Email
	existing.Notes = body.Notes

	if err := h.repo.UpdateClient(r.Context(), existing); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "client not found")
			return
		}
		slog.Error("failed to update client", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to update client")
		return
	}
	JSON(w, http.StatusOK, existing)
}

// DeleteClient removes one client record.
func (h *ClientHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	userID := identity.UserIDFromContext(r.Context())

	existing, err := h.repo.GetClient(r.Context(), clientID)
	if err != nil {
		slog.Error("failed to get client", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete client")
		return
	}
	if existing == nil || existing.UserID != userID {
		Error(w, http.StatusNotFound, "client not found")
		return
	}

	if err := h.repo.DeleteClient(r.Context(), clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "client not found")
			return
		}
		slog.Error("failed to delete client", "client_id", clientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete client")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// AddNote attaches a free-text note to a session.
func (h *ClientHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := identity.UserIDFromContext(r.Context())

	var body struct {
		Body string `json:"body"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Body == "" {
		Error(w, http.StatusBadRequest, "body is required")
		return
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session for note", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to add note")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	note := &domain.SessionNote{
		NoteID:    uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Body:      body.Body,
		CreatedAt: time.Now(),
	}
	if err := h.repo.AddSessionNote(r.Context(), note); err != nil {
		slog.Error("failed to add session note", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to add note")
		return
	}
	JSON(w, http.StatusCreated, note)
}

// ListNotes returns a session's notes in creation order.
func (h *ClientHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	notes, err := h.repo.ListSessionNotes(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to list session notes", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if notes == nil {
		notes = []*domain.SessionNote{}
	}
	JSON(w, http.StatusOK, notes)
}

// GetUsage returns the caller's total recorded usage events.
func (h *ClientHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	count, err := h.repo.CountUsage(r.Context(), userID)
	if err != nil {
		slog.Error("failed to count usage", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to count usage")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          userID,
		"rounds_processed": count,
	})
}
