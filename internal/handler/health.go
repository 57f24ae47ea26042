package handler

import (
	"net/http"

	"github.com/docuchat/docuchat/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	orchestrator *service.Orchestrator
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(orchestrator *service.Orchestrator) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	health := h.orchestrator.Health()
	if health.Status != "ready" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "no usable chat model",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// ChatHealth handles GET /chat/health, describing the active pipeline.
func (h *HealthHandler) ChatHealth(w http.ResponseWriter, r *http.Request) {
	health := h.orchestrator.Health()
	status := http.StatusOK
	if health.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
