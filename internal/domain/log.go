package domain

import (
	"fmt"
	"time"
)

// Severity levels a log entry can carry.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Well-known log types. The set is open; unknown types are stored as-is.
const (
	LogTypeSystem     = "system"
	LogTypeConnection = "connection"
	LogTypeError      = "error"
	LogTypeSecurity   = "security"
)

// LogEntry represents one ingested record from a monitored host.
type LogEntry struct {
	ID        int64     `json:"id"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
	LogType   string    `json:"log_type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Data      LogData   `json:"data"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// IsKnownSeverity reports whether s is one of the four accepted severities.
func IsKnownSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// CheckSchema verifies the columns the store requires are present.
func (e *LogEntry) CheckSchema() error {
	switch {
	case e.Host == "":
		return fmt.Errorf("%w: host is required", ErrSchemaViolation)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrSchemaViolation)
	case e.LogType == "":
		return fmt.Errorf("%w: log_type is required", ErrSchemaViolation)
	}
	return nil
}
