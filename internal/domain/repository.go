package domain

import (
	"context"
	"time"
)

// LogReader is the windowed read side of the event store.
// Every query returns entries with timestamp >= now-window, newest first.
// An empty host means all hosts.
type LogReader interface {
	QueryRecent(ctx context.Context, window time.Duration, host string) ([]LogEntry, error)
	QueryBySeverity(ctx context.Context, window time.Duration, severities []string, host string) ([]LogEntry, error)
	QueryByType(ctx context.Context, window time.Duration, logType, host string) ([]LogEntry, error)
}

// EventStore owns log entries and alerts. Each call is atomic on its own;
// sequences of calls are not.
type EventStore interface {
	LogReader

	// InsertLog persists entry and sets its ID and CreatedAt.
	InsertLog(ctx context.Context, entry *LogEntry) (int64, error)

	// InsertAlert persists alert, stamping Timestamp server-side and forcing Acknowledged to false.
	InsertAlert(ctx context.Context, alert *Alert) (int64, error)

	// QueryAlerts returns at most limit alerts with the given acknowledged flag, newest first.
	QueryAlerts(ctx context.Context, limit int, acknowledged bool) ([]Alert, error)

	// AcknowledgeAlert sets the acknowledged flag. Returns ErrNotFound for unknown ids.
	AcknowledgeAlert(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// AlertPublisher fans admitted alerts out to downstream consumers.
type AlertPublisher interface {
	Publish(ctx context.Context, alerts []Alert) error
}

// AlertSpool is the on-disk fallback for alerts that could not be published.
type AlertSpool interface {
	// Write appends an alert to the current spool segment.
	Write(ctx context.Context, alert Alert) error

	// Replay hands every spooled alert, oldest first, to handler.
	Replay(ctx context.Context, handler func(alert Alert) error) error

	// Truncate removes spooled segments once they have been replayed.
	Truncate(ctx context.Context) error
}

// AlertSource is the consumer side of the alert stream.
type AlertSource interface {
	Read(ctx context.Context, count int) ([]StreamedAlert, error)
	ClaimStale(ctx context.Context, minIdle time.Duration, count int) ([]StreamedAlert, error)
	Ack(ctx context.Context, ids ...string) error
}

// Notifier delivers one alert to an operator-facing channel.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}
