package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

// LogIngester stores one raw record. *usecase.IngestLogUseCase satisfies it.
type LogIngester interface {
	Ingest(ctx context.Context, raw usecase.RawLog, remoteAddr string) (int64, error)
}

type ingestResponse struct {
	Status  string `json:"status"`
	LogID   int64  `json:"log_id"`
	Message string `json:"message"`
}

type lineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type batchResponse struct {
	Status   string      `json:"status"`
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	LogIDs   []int64     `json:"log_ids"`
	Errors   []lineError `json:"errors,omitempty"`
}

// IngestHandler handles POST /logs.
type IngestHandler struct {
	useCase      LogIngester
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxEventSize int64
}

// NewIngestHandler creates a new IngestHandler. m may be nil.
func NewIngestHandler(uc LogIngester, m *metrics.Metrics, logger *slog.Logger, maxEventSize int64) *IngestHandler {
	return &IngestHandler{
		useCase:      uc,
		metrics:      m,
		logger:       logger.With("component", "ingest_handler"),
		maxEventSize: maxEventSize,
	}
}

// ServeHTTP accepts a single JSON object or an NDJSON batch, optionally gzip encoded.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			mt = ""
		}
		mediaType = mt
	}
	if mediaType != "application/json" && mediaType != "application/x-ndjson" {
		h.count("error_media_type")
		respondWithError(w, h.logger, http.StatusUnsupportedMediaType, "unsupported Content-Type")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxEventSize)
	switch r.Header.Get("Content-Encoding") {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			h.fail(w, err, "invalid gzip body")
			return
		}
		defer zr.Close()
		body = http.MaxBytesReader(w, zr, h.maxEventSize)
	default:
		h.count("error_media_type")
		respondWithError(w, h.logger, http.StatusUnsupportedMediaType, "unsupported Content-Encoding")
		return
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		h.fail(w, err, "failed to read body")
		return
	}
	if h.metrics != nil {
		h.metrics.BytesTotal.Add(float64(len(raw)))
	}

	if mediaType == "application/x-ndjson" {
		h.handleNDJSON(w, r, raw)
		return
	}
	h.handleSingleJSON(w, r, raw)
}

func (h *IngestHandler) handleSingleJSON(w http.ResponseWriter, r *http.Request, raw []byte) {
	rec, err := decodeRecord(raw)
	if err != nil {
		h.count("error_parse")
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.useCase.Ingest(r.Context(), rec, r.RemoteAddr)
	if err != nil {
		respondWithError(w, h.logger, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, ingestResponse{
		Status:  "success",
		LogID:   id,
		Message: "Log received and stored",
	})
}

// handleNDJSON ingests line by line. Bad lines are reported and skipped; a
// storage failure stops the batch since later lines would fail the same way.
func (h *IngestHandler) handleNDJSON(w http.ResponseWriter, r *http.Request, raw []byte) {
	resp := batchResponse{Status: "success", LogIDs: []int64{}}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), int(h.maxEventSize)+1)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		rec, err := decodeRecord(b)
		if err != nil {
			h.count("error_parse")
			resp.Rejected++
			resp.Errors = append(resp.Errors, lineError{Line: line, Error: err.Error()})
			continue
		}
		id, err := h.useCase.Ingest(r.Context(), rec, r.RemoteAddr)
		if err != nil {
			var se *domain.StorageError
			if errors.As(err, &se) {
				resp.Status = "error"
				resp.Errors = append(resp.Errors, lineError{Line: line, Error: err.Error()})
				respondWithJSON(w, h.logger, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Rejected++
			resp.Errors = append(resp.Errors, lineError{Line: line, Error: err.Error()})
			continue
		}
		resp.Accepted++
		resp.LogIDs = append(resp.LogIDs, id)
	}
	if err := scanner.Err(); err != nil {
		h.count("error_parse")
		respondWithError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("failed to read ndjson: %v", err))
		return
	}

	code := http.StatusOK
	if resp.Accepted == 0 && resp.Rejected > 0 {
		resp.Status = "error"
		code = http.StatusBadRequest
	}
	respondWithJSON(w, h.logger, code, resp)
}

func (h *IngestHandler) fail(w http.ResponseWriter, err error, msg string) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.count("error_size")
		respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	h.count("error_parse")
	respondWithError(w, h.logger, http.StatusBadRequest, msg)
}

func (h *IngestHandler) count(status string) {
	if h.metrics != nil {
		h.metrics.EventsTotal.WithLabelValues(status).Inc()
	}
}

func decodeRecord(b []byte) (usecase.RawLog, error) {
	var rec usecase.RawLog
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if len(rec) == 0 {
		return nil, errors.New("no data provided")
	}
	return rec, nil
}
