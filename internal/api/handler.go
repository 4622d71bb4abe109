// Package api provides HTTP handlers for the InnerView API.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gavrielSorek/innerview-server/internal/store"
	"github.com/gavrielSorek/innerview-server/internal/workflow"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	wf   *workflow.Service
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, wf *workflow.Service) *Handler {
	return &Handler{repo: repo, wf: wf}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
