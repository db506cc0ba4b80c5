package domain

import "time"

// Alert types emitted by the detectors.
const (
	AlertErrorRepetition     = "error_repetition"
	AlertAbnormalConnections = "abnormal_connections"
	AlertHighCPU             = "high_cpu"
	AlertHighMemory          = "high_memory"
	AlertHighDisk            = "high_disk"
	AlertCorrelatedEvents    = "correlated_events"
)

// Alert severities. "warning" is shared with log severities.
const (
	AlertSeverityMedium   = "medium"
	AlertSeverityWarning  = "warning"
	AlertSeverityHigh     = "high"
	AlertSeverityCritical = "critical"
)

// Alert is a finding produced by a detector and admitted by the deduplicator.
// An empty Host means the alert is not tied to a single host.
type Alert struct {
	ID           int64          `json:"id"`
	Type         string         `json:"alert_type"`
	Severity     string         `json:"severity"`
	Message      string         `json:"message"`
	Host         string         `json:"host,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
}
