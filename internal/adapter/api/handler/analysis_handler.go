package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// AnalysisTrigger runs one detection cycle on demand. *usecase.CorrelationScheduler satisfies it.
type AnalysisTrigger interface {
	TriggerManual(ctx context.Context) ([]domain.Alert, error)
}

type analyzeResponse struct {
	Status          string         `json:"status"`
	AlertsGenerated int            `json:"alerts_generated"`
	Alerts          []domain.Alert `json:"alerts"`
	Error           string         `json:"error,omitempty"`
}

// AnalysisHandler handles POST /analyze.
type AnalysisHandler struct {
	trigger AnalysisTrigger
	logger  *slog.Logger
}

// NewAnalysisHandler creates a new AnalysisHandler.
func NewAnalysisHandler(t AnalysisTrigger, logger *slog.Logger) *AnalysisHandler {
	return &AnalysisHandler{trigger: t, logger: logger.With("component", "analysis_handler")}
}

func (h *AnalysisHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.trigger.TriggerManual(r.Context())
	if err != nil {
		h.logger.Error("manual analysis failed", "error", err)
		respondWithJSON(w, h.logger, http.StatusInternalServerError, analyzeResponse{
			Status: "error",
			Alerts: []domain.Alert{},
			Error:  err.Error(),
		})
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, analyzeResponse{
		Status:          "success",
		AlertsGenerated: len(alerts),
		Alerts:          alerts,
	})
}
