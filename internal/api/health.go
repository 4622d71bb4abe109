package api

import (
	"net/http"

	"github.com/gavrielSorek/innerview-server/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports process and database health.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health pings the database and reports readiness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"db":     err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
