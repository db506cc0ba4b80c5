package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/domain"
)

type stubStreamStatus struct {
	status domain.StreamStatus
	err    error
}

func (s stubStreamStatus) Status(ctx context.Context) (domain.StreamStatus, error) {
	return s.status, s.err
}

func TestAdminHandler_HealthCheck(t *testing.T) {
	rr := httptest.NewRecorder()
	NewAdminHandler(nil, discardLogger()).HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAdminHandler_GetAlertStream(t *testing.T) {
	status := domain.StreamStatus{
		Stream:    "siem_alerts",
		Length:    12,
		Available: true,
		Groups:    []domain.ConsumerGroupInfo{{Name: "alert-notifiers", Consumers: 1, Pending: 2, Lag: 3}},
	}

	tests := []struct {
		name           string
		stream         StreamStatusReader
		expectedStatus int
	}{
		{name: "Publishing disabled", stream: nil, expectedStatus: http.StatusNotFound},
		{name: "Status", stream: stubStreamStatus{status: status}, expectedStatus: http.StatusOK},
		{name: "Redis failure", stream: stubStreamStatus{err: errors.New("connection refused")}, expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewAdminHandler(tt.stream, discardLogger()).GetAlertStream(rr, httptest.NewRequest(http.MethodGet, "/admin/alert-stream", nil))
			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var got domain.StreamStatus
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, status, got)
		})
	}
}
