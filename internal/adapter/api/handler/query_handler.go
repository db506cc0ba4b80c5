package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

const (
	defaultLogMinutes  = 60
	defaultLogLimit    = 100
	defaultAlertLimit  = 50
	maxQueryLimit      = 1000
	healthCheckTimeout = 2 * time.Second
)

// Querier is the read side of the API. *usecase.QueryUseCase satisfies it.
type Querier interface {
	RecentLogs(ctx context.Context, window time.Duration, host string, limit int) ([]domain.LogEntry, error)
	Alerts(ctx context.Context, limit int, acknowledged bool) ([]domain.Alert, error)
	Acknowledge(ctx context.Context, id int64) error
	Stats(ctx context.Context) (usecase.Stats, error)
	Health(ctx context.Context) error
}

// QueryHandler serves logs, alerts, stats and health.
type QueryHandler struct {
	query  Querier
	logger *slog.Logger
	now    func() time.Time
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(q Querier, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{query: q, logger: logger.With("component", "query_handler"), now: time.Now}
}

type logsResponse struct {
	Status string            `json:"status"`
	Count  int               `json:"count"`
	Logs   []domain.LogEntry `json:"logs"`
}

type alertsResponse struct {
	Status string         `json:"status"`
	Count  int            `json:"count"`
	Alerts []domain.Alert `json:"alerts"`
}

type statsResponse struct {
	Status string        `json:"status"`
	Stats  usecase.Stats `json:"stats"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// GetLogs handles GET /logs?minutes=&host=&limit=.
func (h *QueryHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minutes, err := intParam(q.Get("minutes"), defaultLogMinutes)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "minutes must be an integer")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultLogLimit)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "limit must be an integer")
		return
	}

	logs, err := h.query.RecentLogs(r.Context(), time.Duration(minutes)*time.Minute, q.Get("host"), min(limit, maxQueryLimit))
	if err != nil {
		h.logger.Error("failed to query logs", "error", err)
		respondWithError(w, h.logger, statusFor(err), err.Error())
		return
	}
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, logsResponse{Status: "success", Count: len(logs), Logs: logs})
}

// GetAlerts handles GET /alerts?limit=&acknowledged=.
func (h *QueryHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultAlertLimit)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "limit must be an integer")
		return
	}
	acknowledged := false
	if v := q.Get("acknowledged"); v != "" {
		if acknowledged, err = strconv.ParseBool(v); err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, "acknowledged must be a boolean")
			return
		}
	}

	alerts, err := h.query.Alerts(r.Context(), min(limit, maxQueryLimit), acknowledged)
	if err != nil {
		h.logger.Error("failed to query alerts", "error", err)
		respondWithError(w, h.logger, statusFor(err), err.Error())
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, alertsResponse{Status: "success", Count: len(alerts), Alerts: alerts})
}

// AcknowledgeAlert handles POST /alerts/{id}/ack.
func (h *QueryHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.query.Acknowledge(r.Context(), id); err != nil {
		respondWithError(w, h.logger, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"status": "success", "alert_id": id})
}

// GetStats handles GET /stats.
func (h *QueryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.query.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		respondWithError(w, h.logger, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, statsResponse{Status: "success", Stats: st})
}

// Health handles GET /health.
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.query.Health(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		respondWithJSON(w, h.logger, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: h.now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, healthResponse{Status: "healthy", Timestamp: h.now().UTC()})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
