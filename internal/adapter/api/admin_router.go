package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/hostwatch/internal/adapter/api/handler"
)

// NewAdminRouter creates the router served on the admin address. stream may
// be nil when alert publishing is disabled.
func NewAdminRouter(gatherer prometheus.Gatherer, stream handler.StreamStatusReader, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	adminHandler := handler.NewAdminHandler(stream, logger)

	r.Get("/health", adminHandler.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/admin/alert-stream", adminHandler.GetAlertStream)

	return r
}
