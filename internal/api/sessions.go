package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gavrielSorek/innerview-server/internal/gateway"
	"github.com/gavrielSorek/innerview-server/internal/identity"
	"github.com/gavrielSorek/innerview-server/internal/workflow"
	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes the diagnostic workflow over HTTP.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler over the base handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers the workflow routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/{sessionID}/status", h.GetStatus)
		r.Get("/{sessionID}/report", h.GenerateReport)
		r.Post("/{sessionID}/rounds/{roundNumber}", h.ProcessRound)
		r.Post("/{sessionID}/rounds/{roundNumber}/feedback", h.SubmitFeedback)
	})
}

// CreateSession starts a new diagnostic run.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ClientID == "" {
		Error(w, http.StatusBadRequest, "client_id is required")
		return
	}

	session, err := h.wf.CreateSession(r.Context(), body.ClientID, userID)
	if err != nil {
		slog.Error("failed to create session", "client_id", body.ClientID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	JSON(w, http.StatusCreated, session)
}

// ProcessRound runs one analysis round.
func (h *SessionHandler) ProcessRound(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	roundNumber, err := strconv.Atoi(chi.URLParam(r, "roundNumber"))
	if err != nil {
		Error(w, http.StatusBadRequest, "round number must be an integer")
		return
	}

	var body struct {
		ImageRef          string `json:"image_ref"`
		AdditionalContext string `json:"additional_context"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.wf.ProcessRound(r.Context(), sessionID, roundNumber, workflow.ProcessRequest{
		ImageRef:          body.ImageRef,
		AdditionalContext: body.AdditionalContext,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// SubmitFeedback records a therapist decision for a round.
func (h *SessionHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	roundNumber, err := strconv.Atoi(chi.URLParam(r, "roundNumber"))
	if err != nil {
		Error(w, http.StatusBadRequest, "round number must be an integer")
		return
	}

	var body struct {
		Feedback string `json:"feedback"`
		Approved *bool  `json:"approved"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Approved == nil {
		Error(w, http.StatusBadRequest, "approved is required")
		return
	}

	message, err := h.wf.SubmitFeedback(r.Context(), sessionID, roundNumber, body.Feedback, *body.Approved)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// GetStatus returns the session's progress snapshot.
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := h.wf.GetStatus(r.Context(), sessionID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// GenerateReport compiles the final report for a completed session.
func (h *SessionHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := h.wf.GenerateReport(r.Context(), sessionID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// writeWorkflowError maps the workflow error taxonomy to HTTP statuses.
// Law violations never arrive here: they are data on a successful response.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var (
		progression *workflow.ProgressionError
		notFound    *workflow.SessionNotFoundError
		noRound     *workflow.RoundNotFoundError
		incomplete  *workflow.IncompleteSessionError
		gwErr       *gateway.Error
	)

	switch {
	case errors.Is(err, workflow.ErrInvalidRound):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &progression):
		Error(w, http.StatusConflict, progression.Error())
	case errors.As(err, &notFound):
		Error(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &noRound):
		Error(w, http.StatusNotFound, noRound.Error())
	case errors.As(err, &incomplete):
		Error(w, http.StatusConflict, incomplete.Error())
	case workflow.IsParseError(err):
		Error(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &gwErr):
		switch gwErr.Kind {
		case gateway.KindTimeout:
			Error(w, http.StatusGatewayTimeout, gwErr.Error())
		case gateway.KindRateLimited:
			Error(w, http.StatusTooManyRequests, gwErr.Error())
		default:
			Error(w, http.StatusBadGateway, gwErr.Error())
		}
	default:
		slog.Error("unexpected workflow failure", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
