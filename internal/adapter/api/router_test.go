package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/adapter/api/handler"
	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/adapter/pii"
	"github.com/V4T54L/hostwatch/internal/detector"
	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/domain/mocks"
	"github.com/V4T54L/hostwatch/internal/pkg/config"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	store := &mocks.MockEventStore{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := handler.NewAlertBroker(ctx, 0, m, logger)
	set := detector.NewSet(store, detector.NewRules(detector.DefaultThresholds()), detector.NewDeduplicator(time.Now), logger)
	scheduler := usecase.NewCorrelationScheduler(set, store, []domain.AlertPublisher{broker},
		usecase.SchedulerConfig{Interval: time.Minute, StopTimeout: time.Second}, m, logger)

	return NewRouter(cfg, Services{
		Ingest:   usecase.NewIngestLogUseCase(store, pii.NewRedactor(nil, logger), m, logger),
		Query:    usecase.NewQueryUseCase(store, logger),
		Analysis: scheduler,
		Broker:   broker,
	}, m, logger)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, &config.Config{MaxEventSize: 1024})

	tests := []struct {
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{http.MethodPost, "/logs", `{"host":"web-1","message":"hello"}`, http.StatusOK},
		{http.MethodGet, "/logs", "", http.StatusOK},
		{http.MethodGet, "/alerts", "", http.StatusOK},
		{http.MethodPost, "/alerts/1/ack", "", http.StatusNotFound},
		{http.MethodGet, "/stats", "", http.StatusOK},
		{http.MethodPost, "/analyze", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodDelete, "/logs", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
		})
	}
}

func TestRouter_RateLimitsIngestOnly(t *testing.T) {
	router := newTestRouter(t, &config.Config{MaxEventSize: 1024, IngestRateLimit: 0.001, IngestRateBurst: 1})

	post := func() int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(`{"message":"x"}`)))
		return rr.Code
	}
	require.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EventsTotal.WithLabelValues("accepted").Inc()

	router := NewAdminRouter(reg, nil, logger)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `hostwatch_ingest_events_total{status="accepted"} 1`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/alert-stream", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
