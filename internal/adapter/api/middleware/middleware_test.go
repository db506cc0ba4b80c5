package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(RequestIDFrom(r.Context())))
	})
}

func TestRequestID(t *testing.T) {
	t.Run("mints an id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequestID(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		id := rr.Header().Get(RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, rr.Body.String())
	})

	t.Run("reuses a valid incoming id", func(t *testing.T) {
		want := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, want)
		rr := httptest.NewRecorder()
		RequestID(okHandler()).ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Header().Get(RequestIDHeader))
	})

	t.Run("replaces garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		rr := httptest.NewRecorder()
		RequestID(okHandler()).ServeHTTP(rr, req)
		assert.NotEqual(t, "<script>", rr.Header().Get(RequestIDHeader))
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	rr := httptest.NewRecorder()
	RequestID(Logging(logger)(okHandler())).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))

	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"path":"/logs"`)
	assert.Contains(t, out, rr.Header().Get(RequestIDHeader))
}

func TestLogging_PreservesFlusher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var flushable bool
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushable)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("disabled", func(t *testing.T) {
		h := RateLimit(0, 0, logger)(okHandler())
		for i := 0; i < 50; i++ {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs", nil))
			require.Equal(t, http.StatusTeapot, rr.Code)
		}
	})

	t.Run("burst then 429", func(t *testing.T) {
		h := RateLimit(0.001, 2, logger)(okHandler())
		codes := make([]int, 3)
		for i := range codes {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logs", nil))
			codes[i] = rr.Code
		}
		assert.Equal(t, []int{http.StatusTeapot, http.StatusTeapot, http.StatusTooManyRequests}, codes)
	})
}
