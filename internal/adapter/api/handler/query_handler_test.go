package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/domain/mocks"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

var queryNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newQueryRouter(store *mocks.MockEventStore) http.Handler {
	h := NewQueryHandler(usecase.NewQueryUseCase(store, discardLogger()), discardLogger())
	h.now = func() time.Time { return queryNow }

	r := chi.NewRouter()
	r.Get("/logs", h.GetLogs)
	r.Get("/alerts", h.GetAlerts)
	r.Post("/alerts/{id}/ack", h.AcknowledgeAlert)
	r.Get("/stats", h.GetStats)
	r.Get("/health", h.Health)
	return r
}

func seededStore() *mocks.MockEventStore {
	store := &mocks.MockEventStore{Now: func() time.Time { return queryNow }}
	store.Logs = []domain.LogEntry{
		{ID: 1, Host: "web-1", Timestamp: queryNow.Add(-2 * time.Hour), LogType: "error", Severity: "error"},
		{ID: 2, Host: "web-1", Timestamp: queryNow.Add(-10 * time.Minute), LogType: "error", Severity: "error"},
		{ID: 3, Host: "db-1", Timestamp: queryNow.Add(-5 * time.Minute), LogType: "system", Severity: "info"},
		{ID: 4, Host: "web-1", Timestamp: queryNow.Add(-1 * time.Minute), LogType: "connection", Severity: "warning"},
	}
	store.Alerts = []domain.Alert{
		{ID: 1, Type: domain.AlertHighCPU, Severity: "warning", Host: "db-1", Timestamp: queryNow},
		{ID: 2, Type: domain.AlertErrorRepetition, Severity: "high", Host: "web-1", Timestamp: queryNow, Acknowledged: true},
		{ID: 3, Type: domain.AlertCorrelatedEvents, Severity: "critical", Host: "web-1", Timestamp: queryNow},
	}
	return store
}

func TestQueryHandler_GetLogs(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedIDs    []int64
	}{
		{name: "Defaults to last hour", query: "", expectedStatus: http.StatusOK, expectedIDs: []int64{4, 3, 2}},
		{name: "Host filter", query: "?host=web-1", expectedStatus: http.StatusOK, expectedIDs: []int64{4, 2}},
		{name: "Narrow window", query: "?minutes=3", expectedStatus: http.StatusOK, expectedIDs: []int64{4}},
		{name: "Limit", query: "?limit=1", expectedStatus: http.StatusOK, expectedIDs: []int64{4}},
		{name: "Wide window", query: "?minutes=180", expectedStatus: http.StatusOK, expectedIDs: []int64{4, 3, 2, 1}},
		{name: "Empty result", query: "?host=nobody", expectedStatus: http.StatusOK, expectedIDs: []int64{}},
		{name: "Bad minutes", query: "?minutes=abc", expectedStatus: http.StatusBadRequest},
		{name: "Non-positive minutes", query: "?minutes=0", expectedStatus: http.StatusBadRequest},
		{name: "Bad limit", query: "?limit=-2", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newQueryRouter(seededStore()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs"+tt.query, nil))

			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp logsResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, "success", resp.Status)
			assert.Equal(t, len(tt.expectedIDs), resp.Count)
			ids := []int64{}
			for _, e := range resp.Logs {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.expectedIDs, ids)
		})
	}
}

func TestQueryHandler_GetAlerts(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedIDs    []int64
	}{
		{name: "Open alerts newest first", query: "", expectedStatus: http.StatusOK, expectedIDs: []int64{3, 1}},
		{name: "Acknowledged", query: "?acknowledged=true", expectedStatus: http.StatusOK, expectedIDs: []int64{2}},
		{name: "Limit", query: "?limit=1", expectedStatus: http.StatusOK, expectedIDs: []int64{3}},
		{name: "Bad flag", query: "?acknowledged=maybe", expectedStatus: http.StatusBadRequest},
		{name: "Zero limit", query: "?limit=0", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newQueryRouter(seededStore()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/alerts"+tt.query, nil))

			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp alertsResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			ids := []int64{}
			for _, a := range resp.Alerts {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.expectedIDs, ids)
			assert.Equal(t, len(ids), resp.Count)
		})
	}
}

func TestQueryHandler_AcknowledgeAlert(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{name: "Known alert", path: "/alerts/1/ack", expectedStatus: http.StatusOK},
		{name: "Unknown alert", path: "/alerts/99/ack", expectedStatus: http.StatusNotFound},
		{name: "Bad id", path: "/alerts/abc/ack", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore()
			rr := httptest.NewRecorder()
			newQueryRouter(store).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}

	t.Run("Acknowledged alert leaves the open list", func(t *testing.T) {
		store := seededStore()
		router := newQueryRouter(store)
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/alerts/3/ack", nil))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/alerts", nil))
		var resp alertsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Alerts, 1)
		assert.Equal(t, int64(1), resp.Alerts[0].ID)
	})
}

func TestQueryHandler_GetStats(t *testing.T) {
	rr := httptest.NewRecorder()
	newQueryRouter(seededStore()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Stats.TotalLogsLastHour)
	assert.Equal(t, 2, resp.Stats.TotalAlerts)
	assert.Equal(t, map[string]int{"web-1": 2, "db-1": 1}, resp.Stats.ByHost)
	assert.Equal(t, map[string]int{"warning": 1, "critical": 1}, resp.Stats.AlertsBySeverity)
}

func TestQueryHandler_StoreFailure(t *testing.T) {
	store := seededStore()
	store.QueryErr = &domain.StorageError{Op: "query_recent", Err: errors.New("disk I/O error")}

	for _, path := range []string{"/logs", "/alerts", "/stats"} {
		t.Run(path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newQueryRouter(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		})
	}
}

func TestQueryHandler_Health(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newQueryRouter(seededStore()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"healthy","timestamp":"2024-03-01T12:00:00Z"}`, rr.Body.String())
	})

	t.Run("Store unreachable", func(t *testing.T) {
		store := seededStore()
		store.PingErr = errors.New("database is locked")
		rr := httptest.NewRecorder()
		newQueryRouter(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"unhealthy"`)
	})
}
