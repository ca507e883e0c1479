package handler

import (
	"net/http"
)

// ReadyChecker reports whether a live long-poll session is established.
type ReadyChecker interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checker ReadyChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker ReadyChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil || !h.checker.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "no live long-poll session",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
