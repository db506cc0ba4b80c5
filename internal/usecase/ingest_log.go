package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/adapter/pii"
	"github.com/V4T54L/hostwatch/internal/domain"
)

var tracer = otel.Tracer("github.com/V4T54L/hostwatch/internal/usecase")

// Top-level keys clients may send next to the record fields; they are
// folded into the data mapping.
var foldedFields = []string{
	domain.FieldCPUPercent,
	domain.FieldMemoryPercent,
	domain.FieldDiskPercent,
	domain.FieldOS,
	domain.FieldIP,
	domain.FieldPort,
	domain.FieldSourceIP,
}

// Naive layouts are what clients emitting local wall-clock time send.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// RawLog is a decoded ingestion payload before defaulting.
type RawLog map[string]any

// IngestLogUseCase fills in defaults, validates, redacts and stores one record.
type IngestLogUseCase struct {
	store    domain.EventStore
	redactor *pii.Redactor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestLogUseCase creates a new IngestLogUseCase. m may be nil.
func NewIngestLogUseCase(store domain.EventStore, redactor *pii.Redactor, m *metrics.Metrics, logger *slog.Logger) *IngestLogUseCase {
	return &IngestLogUseCase{
		store:    store,
		redactor: redactor,
		metrics:  m,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
	}
}

// Ingest normalizes raw and persists it. remoteAddr is used when the
// payload names no host. The returned error is a *domain.ValidationError or
// a *domain.StorageError.
func (uc *IngestLogUseCase) Ingest(ctx context.Context, raw RawLog, remoteAddr string) (int64, error) {
	ctx, span := tracer.Start(ctx, "IngestLog")
	defer span.End()

	entry, err := uc.Normalize(raw, remoteAddr)
	if err != nil {
		uc.count("error_validation")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return 0, err
	}
	span.SetAttributes(
		attribute.String("host", entry.Host),
		attribute.String("log_type", entry.LogType),
		attribute.String("severity", entry.Severity),
	)

	if uc.redactor != nil {
		uc.redactor.Redact(entry)
	}

	id, err := uc.store.InsertLog(ctx, entry)
	if err != nil {
		uc.count("error_storage")
		uc.logger.Error("failed to store log", "host", entry.Host, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return 0, err
	}

	uc.count("accepted")
	uc.logger.Debug("log stored", "id", id, "host", entry.Host, "log_type", entry.LogType, "severity", entry.Severity)
	return id, nil
}

// Normalize applies the ingestion defaults to raw and validates the result.
func (uc *IngestLogUseCase) Normalize(raw RawLog, remoteAddr string) (*domain.LogEntry, error) {
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Field: "body", Reason: "no data provided"}
	}

	entry := &domain.LogEntry{}

	host, err := optionalString(raw, "host")
	if err != nil {
		return nil, err
	}
	if host == "" {
		host = hostFromAddr(remoteAddr)
	}
	entry.Host = host

	if entry.Timestamp, err = uc.timestamp(raw); err != nil {
		return nil, err
	}

	fields, err := dataFields(raw)
	if err != nil {
		return nil, err
	}

	message, err := optionalString(raw, "message")
	if err != nil {
		return nil, err
	}

	if entry.LogType, err = optionalString(raw, "log_type"); err != nil {
		return nil, err
	}
	if entry.LogType == "" {
		entry.LogType = inferLogType(fields, message)
	}
	entry.Data = domain.NewLogData(entry.LogType, fields)

	severity, err := optionalString(raw, "severity")
	if err != nil {
		return nil, err
	}
	severity = strings.ToLower(severity)
	switch {
	case severity == "":
		severity = inferSeverity(entry.Data)
	case !domain.IsKnownSeverity(severity):
		return nil, &domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}
	entry.Severity = severity

	if _, present := raw["message"]; !present {
		message = defaultMessage(entry)
	}
	entry.Message = message

	return entry, nil
}

func (uc *IngestLogUseCase) timestamp(raw RawLog) (time.Time, error) {
	v, present := raw["timestamp"]
	if !present || v == nil {
		return uc.now(), nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, &domain.ValidationError{Field: "timestamp", Reason: "must be an ISO-8601 string"}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("cannot parse %q", s)}
}

// dataFields merges an explicit data object with the folded top-level keys.
func dataFields(raw RawLog) (map[string]any, error) {
	fields := map[string]any{}
	if v, present := raw["data"]; present && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, &domain.ValidationError{Field: "data", Reason: "must be an object"}
		}
		for k, val := range m {
			fields[k] = val
		}
	}
	for _, k := range foldedFields {
		if v, ok := raw[k]; ok {
			fields[k] = v
		}
	}
	return fields, nil
}

func inferLogType(fields map[string]any, message string) string {
	_, cpu := fields[domain.FieldCPUPercent]
	_, mem := fields[domain.FieldMemoryPercent]
	switch {
	case cpu || mem:
		return domain.LogTypeSystem
	case strings.Contains(strings.ToLower(message), "connection"):
		return domain.LogTypeConnection
	default:
		return domain.LogTypeSystem
	}
}

func inferSeverity(d domain.LogData) string {
	peak := 0.0
	for _, k := range []string{domain.FieldCPUPercent, domain.FieldMemoryPercent, domain.FieldDiskPercent} {
		if v, ok := d.Metric(k); ok && v > peak {
			peak = v
		}
	}
	switch {
	case peak > 90:
		return domain.SeverityCritical
	case peak > 70:
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

func defaultMessage(e *domain.LogEntry) string {
	if e.LogType != domain.LogTypeSystem {
		return "Log entry"
	}
	metric := func(k string) float64 {
		v, _ := e.Data.Metric(k)
		return v
	}
	return fmt.Sprintf("System metrics - CPU: %g%%, Memory: %g%%, Disk: %g%%",
		metric(domain.FieldCPUPercent), metric(domain.FieldMemoryPercent), metric(domain.FieldDiskPercent))
}

func optionalString(raw RawLog, key string) (string, error) {
	v, present := raw[key]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &domain.ValidationError{Field: key, Reason: "must be a string"}
	}
	return strings.TrimSpace(s), nil
}

func hostFromAddr(addr string) string {
	if addr == "" {
		return "unknown"
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func (uc *IngestLogUseCase) count(status string) {
	if uc.metrics != nil {
		uc.metrics.EventsTotal.WithLabelValues(status).Inc()
	}
}
