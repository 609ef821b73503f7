package handler

import (
	"net/http"

	"github.com/alanyoungcy/tradeagent/internal/service"
)

// StatusProvider reports the coordinator's live state.
type StatusProvider interface {
	Status() service.Status
}

// StatusHandler serves the agent status for the dashboard.
type StatusHandler struct {
	provider StatusProvider
	mode     string
}

// NewStatusHandler creates a StatusHandler. mode is "live" or "paper".
func NewStatusHandler(provider StatusProvider, mode string) *StatusHandler {
	return &StatusHandler{provider: provider, mode: mode}
}

// GetStatus responds with the position state and the last observed price.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"status": h.provider.Status(),
	})
}
