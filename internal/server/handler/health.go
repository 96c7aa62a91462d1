package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness check.
type HealthHandler struct {
	started time.Time
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler that reports uptime from now.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now(), now: time.Now}
}

// HealthCheck reports that the process is serving.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(h.started).Round(time.Second).String(),
	})
}
