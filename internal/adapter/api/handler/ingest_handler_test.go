package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

// MockIngester is a mock implementation of LogIngester.
type MockIngester struct {
	IngestFunc func(ctx context.Context, raw usecase.RawLog, remoteAddr string) (int64, error)
	calls      int
}

func (m *MockIngester) Ingest(ctx context.Context, raw usecase.RawLog, remoteAddr string) (int64, error) {
	m.calls++
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, raw, remoteAddr)
	}
	return int64(m.calls), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gzipped(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.String()
}

func TestIngestHandler(t *testing.T) {
	storageErr := &domain.StorageError{Op: "insert_log", Err: io.ErrUnexpectedEOF}

	tests := []struct {
		name            string
		contentType     string
		contentEncoding string
		body            string
		maxSize         int64
		ingestErr       error
		expectedStatus  int
		expectedCalls   int
		expectedBody    string
	}{
		{
			name:           "Valid Single JSON",
			contentType:    "application/json",
			body:           `{"host": "web-1", "message": "hello"}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
			expectedBody:   `{"status":"success","log_id":1,"message":"Log received and stored"}`,
		},
		{
			name:           "Charset suffix",
			contentType:    "application/json; charset=utf-8",
			body:           `{"cpu_percent": 12}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
		},
		{
			name:           "Missing Content-Type defaults to JSON",
			body:           `{"message": "hello"}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
		},
		{
			name:            "Gzip JSON",
			contentType:     "application/json",
			contentEncoding: "gzip",
			body:            `{"message": "compressed"}`,
			expectedStatus:  http.StatusOK,
			expectedCalls:   1,
		},
		{
			name:           "Valid NDJSON",
			contentType:    "application/x-ndjson",
			body:           `{"message": "line 1"}` + "\n\n" + `{"message": "line 2"}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  2,
			expectedBody:   `{"status":"success","accepted":2,"rejected":0,"log_ids":[1,2]}`,
		},
		{
			name:           "NDJSON with one bad line",
			contentType:    "application/x-ndjson",
			body:           `{"message": "line 1"}` + "\n" + `{"message": "bad`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
		},
		{
			name:           "NDJSON with only bad lines",
			contentType:    "application/x-ndjson",
			body:           `nope` + "\n" + `[]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "NDJSON storage failure",
			contentType:    "application/x-ndjson",
			body:           `{"message": "line 1"}` + "\n" + `{"message": "line 2"}`,
			ingestErr:      storageErr,
			expectedStatus: http.StatusServiceUnavailable,
			expectedCalls:  1,
		},
		{
			name:           "Unsupported Content-Type",
			contentType:    "text/plain",
			body:           `hello`,
			expectedStatus: http.StatusUnsupportedMediaType,
			expectedBody:   `{"status":"error","error":"unsupported Content-Type"}`,
		},
		{
			name:            "Unsupported Content-Encoding",
			contentType:     "application/json",
			contentEncoding: "br",
			body:            `{}`,
			expectedStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:           "Bad JSON",
			contentType:    "application/json",
			body:           `{"message": "hello"`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Empty object",
			contentType:    "application/json",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"error","error":"no data provided"}`,
		},
		{
			name:           "Validation error",
			contentType:    "application/json",
			body:           `{"severity": "loud"}`,
			ingestErr:      &domain.ValidationError{Field: "severity", Reason: "unknown severity"},
			expectedStatus: http.StatusBadRequest,
			expectedCalls:  1,
		},
		{
			name:           "Storage error",
			contentType:    "application/json",
			body:           `{"message": "fail me"}`,
			ingestErr:      storageErr,
			expectedStatus: http.StatusServiceUnavailable,
			expectedCalls:  1,
		},
		{
			name:           "Payload Too Large",
			contentType:    "application/json",
			body:           `{"message": "this payload is definitely too large for the test limit"}`,
			maxSize:        50,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:            "Decompressed payload too large",
			contentType:     "application/json",
			contentEncoding: "gzip",
			body:            `{"message": "` + strings.Repeat("a", 400) + `"}`,
			maxSize:         100,
			expectedStatus:  http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockIngester{}
			if tt.ingestErr != nil {
				mock.IngestFunc = func(context.Context, usecase.RawLog, string) (int64, error) {
					return 0, tt.ingestErr
				}
			}
			maxSize := int64(1024)
			if tt.maxSize > 0 {
				maxSize = tt.maxSize
			}
			handler := NewIngestHandler(mock, metrics.New(prometheus.NewRegistry()), discardLogger(), maxSize)

			body := tt.body
			if tt.contentEncoding == "gzip" {
				body = gzipped(t, body)
			}
			req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.contentEncoding != "" {
				req.Header.Set("Content-Encoding", tt.contentEncoding)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.expectedCalls, mock.calls)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestIngestHandler_PassesRemoteAddrAndFields(t *testing.T) {
	var gotAddr string
	var gotRaw usecase.RawLog
	mock := &MockIngester{IngestFunc: func(_ context.Context, raw usecase.RawLog, addr string) (int64, error) {
		gotRaw, gotAddr = raw, addr
		return 42, nil
	}}
	handler := NewIngestHandler(mock, nil, discardLogger(), 1024)

	req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(`{"cpu_percent": 95.5, "os": "linux"}`))
	req.RemoteAddr = "10.0.0.7:51234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10.0.0.7:51234", gotAddr)
	assert.Equal(t, 95.5, gotRaw["cpu_percent"])
	assert.Equal(t, "linux", gotRaw["os"])

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.LogID)
}

func TestIngestHandler_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := NewIngestHandler(&MockIngester{}, m, discardLogger(), 1024)

	send := func(ct, body string) {
		req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(body))
		req.Header.Set("Content-Type", ct)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	send("application/json", `{"message": "ok"}`)
	send("application/json", `not json`)
	send("text/csv", `a,b`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("error_parse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("error_media_type")))
	assert.Equal(t, float64(len(`{"message": "ok"}`)+len(`not json`)), testutil.ToFloat64(m.BytesTotal))
}
