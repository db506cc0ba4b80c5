package pii

import (
	"log/slog"
	"strings"

	"github.com/V4T54L/hostwatch/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks configured keys anywhere inside a log entry's data mapping.
// Key matching is case-insensitive.
type Redactor struct {
	fieldsToRedact map[string]struct{}
	logger         *slog.Logger
}

// NewRedactor creates a Redactor for the given field names.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if f := strings.ToLower(strings.TrimSpace(field)); f != "" {
			fieldSet[f] = struct{}{}
		}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger.With("component", "pii_redactor"),
	}
}

// Redact replaces matching values in entry.Data in place, descending into
// nested objects and arrays, and returns how many values were masked.
func (r *Redactor) Redact(entry *domain.LogEntry) int {
	if len(r.fieldsToRedact) == 0 || len(entry.Data.Fields) == 0 {
		return 0
	}
	n := r.redactMap(entry.Data.Fields)
	if n > 0 {
		entry.Data = domain.NewLogData(entry.LogType, entry.Data.Fields)
		r.logger.Debug("redacted data fields", "host", entry.Host, "count", n)
	}
	return n
}

func (r *Redactor) redactMap(m map[string]any) int {
	n := 0
	for k, v := range m {
		if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok {
			m[k] = RedactedPlaceholder
			n++
			continue
		}
		n += r.redactValue(v)
	}
	return n
}

func (r *Redactor) redactValue(v any) int {
	switch t := v.(type) {
	case map[string]any:
		return r.redactMap(t)
	case []any:
		n := 0
		for _, item := range t {
			n += r.redactValue(item)
		}
		return n
	}
	return 0
}
