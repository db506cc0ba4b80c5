package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	statsWindow     = time.Hour
	statsAlertLimit = 100
)

// Stats aggregates the last hour of logs and the most recent open alerts.
type Stats struct {
	TotalLogsLastHour int            `json:"total_logs_last_hour"`
	TotalAlerts       int            `json:"total_alerts"`
	ByType            map[string]int `json:"by_type"`
	BySeverity        map[string]int `json:"by_severity"`
	ByHost            map[string]int `json:"by_host"`
	AlertsBySeverity  map[string]int `json:"alerts_by_severity"`
}

// QueryUseCase serves the read side of the API.
type QueryUseCase struct {
	store  domain.EventStore
	logger *slog.Logger
}

// NewQueryUseCase creates a new QueryUseCase.
func NewQueryUseCase(store domain.EventStore, logger *slog.Logger) *QueryUseCase {
	return &QueryUseCase{store: store, logger: logger.With("component", "query")}
}

// RecentLogs returns at most limit entries from the trailing window, newest first.
func (uc *QueryUseCase) RecentLogs(ctx context.Context, window time.Duration, host string, limit int) ([]domain.LogEntry, error) {
	if window <= 0 {
		return nil, &domain.ValidationError{Field: "minutes", Reason: "must be positive"}
	}
	if limit <= 0 {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	entries, err := uc.store.QueryRecent(ctx, window, host)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Alerts returns at most limit alerts with the given acknowledged flag.
func (uc *QueryUseCase) Alerts(ctx context.Context, limit int, acknowledged bool) ([]domain.Alert, error) {
	if limit <= 0 {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	return uc.store.QueryAlerts(ctx, limit, acknowledged)
}

// Acknowledge marks one alert as handled.
func (uc *QueryUseCase) Acknowledge(ctx context.Context, id int64) error {
	if err := uc.store.AcknowledgeAlert(ctx, id); err != nil {
		return err
	}
	uc.logger.Info("alert acknowledged", "alert_id", id)
	return nil
}

// Stats counts the last hour of logs by type, severity and host, and the
// latest open alerts by severity.
func (uc *QueryUseCase) Stats(ctx context.Context) (Stats, error) {
	entries, err := uc.store.QueryRecent(ctx, statsWindow, "")
	if err != nil {
		return Stats{}, err
	}
	alerts, err := uc.store.QueryAlerts(ctx, statsAlertLimit, false)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalLogsLastHour: len(entries),
		TotalAlerts:       len(alerts),
		ByType:            map[string]int{},
		BySeverity:        map[string]int{},
		ByHost:            map[string]int{},
		AlertsBySeverity:  map[string]int{},
	}
	for _, e := range entries {
		st.ByType[orUnknown(e.LogType)]++
		st.BySeverity[orUnknown(e.Severity)]++
		st.ByHost[orUnknown(e.Host)]++
	}
	for _, a := range alerts {
		st.AlertsBySeverity[orUnknown(a.Severity)]++
	}
	return st, nil
}

// Health pings the store.
func (uc *QueryUseCase) Health(ctx context.Context) error {
	return uc.store.Ping(ctx)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
