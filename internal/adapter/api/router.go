package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/hostwatch/internal/adapter/api/handler"
	"github.com/V4T54L/hostwatch/internal/adapter/api/middleware"
	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/pkg/config"
)

// Services bundles what the public router dispatches to.
type Services struct {
	Ingest   handler.LogIngester
	Query    handler.Querier
	Analysis handler.AnalysisTrigger
	Broker   *handler.AlertBroker
}

// NewRouter creates and configures the main HTTP router.
func NewRouter(cfg *config.Config, svc Services, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))

	ingestHandler := handler.NewIngestHandler(svc.Ingest, m, logger, cfg.MaxEventSize)
	queryHandler := handler.NewQueryHandler(svc.Query, logger)
	analysisHandler := handler.NewAnalysisHandler(svc.Analysis, logger)

	r.With(middleware.RateLimit(cfg.IngestRateLimit, cfg.IngestRateBurst, logger)).
		Method(http.MethodPost, "/logs", ingestHandler)
	r.Get("/logs", queryHandler.GetLogs)

	r.Get("/alerts", queryHandler.GetAlerts)
	r.Post("/alerts/{id}/ack", queryHandler.AcknowledgeAlert)
	if svc.Broker != nil {
		r.Method(http.MethodGet, "/alerts/stream", svc.Broker)
	}

	r.Get("/stats", queryHandler.GetStats)
	r.Method(http.MethodPost, "/analyze", analysisHandler)
	r.Get("/health", queryHandler.Health)

	return r
}
