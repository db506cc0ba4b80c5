package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// StreamStatusReader reports the state of the alert stream. *redis.AlertStream satisfies it.
type StreamStatusReader interface {
	Status(ctx context.Context) (domain.StreamStatus, error)
}

// AdminHandler serves the admin server endpoints besides /metrics.
type AdminHandler struct {
	stream StreamStatusReader
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. stream may be nil when
// publishing is disabled.
func NewAdminHandler(stream StreamStatusReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stream: stream, logger: logger.With("component", "admin_handler")}
}

// HealthCheck is a simple liveness endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// GetAlertStream handles GET /admin/alert-stream.
func (h *AdminHandler) GetAlertStream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		respondWithError(w, h.logger, http.StatusNotFound, "alert stream publishing is disabled")
		return
	}
	status, err := h.stream.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to get alert stream status", "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, status)
}
