package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	logColumns   = "id, host, timestamp, log_type, severity, message, data, created_at"
	alertColumns = "id, alert_type, severity, message, host, details, timestamp, acknowledged"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		host TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		log_type TEXT NOT NULL,
		severity TEXT,
		message TEXT,
		data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		host TEXT,
		details JSONB,
		timestamp TIMESTAMPTZ NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_host ON logs(host)`,
	`CREATE INDEX IF NOT EXISTS idx_timestamp ON logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_log_type ON logs(log_type)`,
	`CREATE INDEX IF NOT EXISTS idx_severity ON logs(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_timestamp ON alerts(timestamp)`,
}

// Store implements domain.EventStore for PostgreSQL. Each operation is a
// single statement, so no extra locking is needed.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the tables and indices if missing and returns the store.
func NewStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, &domain.StorageError{Op: "migrate", Err: err}
		}
	}
	return &Store{db: db, logger: logger.With("component", "postgres_store"), now: time.Now}, nil
}

func (s *Store) InsertLog(ctx context.Context, entry *domain.LogEntry) (int64, error) {
	if err := entry.CheckSchema(); err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: err}
	}
	data, err := entry.Data.Encode()
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: fmt.Errorf("encode data: %w", err)}
	}

	var (
		id        int64
		createdAt time.Time
	)
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO logs (host, timestamp, log_type, severity, message, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		entry.Host, entry.Timestamp, entry.LogType, entry.Severity, entry.Message, string(data), s.now(),
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: err}
	}
	entry.ID = id
	entry.CreatedAt = createdAt
	return id, nil
}

func (s *Store) InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	// jsonb parameters go over the wire as text; lib/pq would send []byte as bytea.
	var details sql.NullString
	if alert.Details != nil {
		b, err := json.Marshal(alert.Details)
		if err != nil {
			return 0, &domain.StorageError{Op: "insert_alert", Err: fmt.Errorf("encode details: %w", err)}
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	host := sql.NullString{String: alert.Host, Valid: alert.Host != ""}

	var (
		id int64
		ts time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (alert_type, severity, message, host, details, timestamp, acknowledged)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE) RETURNING id, timestamp`,
		alert.Type, alert.Severity, alert.Message, host, details, s.now(),
	).Scan(&id, &ts)
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_alert", Err: err}
	}
	alert.ID = id
	alert.Timestamp = ts
	alert.Acknowledged = false
	return id, nil
}

func (s *Store) QueryRecent(ctx context.Context, window time.Duration, host string) ([]domain.LogEntry, error) {
	return s.queryLogs(ctx, "query_recent", window, host, "")
}

func (s *Store) QueryBySeverity(ctx context.Context, window time.Duration, severities []string, host string) ([]domain.LogEntry, error) {
	if len(severities) == 0 {
		return nil, nil
	}
	return s.queryLogs(ctx, "query_by_severity", window, host, "severity = ANY($%d)", pq.Array(severities))
}

func (s *Store) QueryByType(ctx context.Context, window time.Duration, logType, host string) ([]domain.LogEntry, error) {
	return s.queryLogs(ctx, "query_by_type", window, host, "log_type = $%d", logType)
}

// queryLogs builds a windowed query. cond may contain one %d verb that is
// replaced with the placeholder index of condArg.
func (s *Store) queryLogs(ctx context.Context, op string, window time.Duration, host, cond string, condArg ...any) ([]domain.LogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM logs WHERE timestamp >= $1`
	args := []any{s.now().Add(-window)}
	if cond != "" {
		args = append(args, condArg...)
		query += " AND " + fmt.Sprintf(cond, len(args))
	}
	if host != "" {
		args = append(args, host)
		query += " AND host = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var (
			e                 domain.LogEntry
			severity, message sql.NullString
			data              []byte
		)
		if err := rows.Scan(&e.ID, &e.Host, &e.Timestamp, &e.LogType, &severity, &message, &data, &e.CreatedAt); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		e.Severity = severity.String
		e.Message = message.String
		e.Data = domain.DecodeLogData(e.LogType, data)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return entries, nil
}

func (s *Store) QueryAlerts(ctx context.Context, limit int, acknowledged bool) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE acknowledged = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		acknowledged, limit,
	)
	if err != nil {
		return nil, &domain.StorageError{Op: "query_alerts", Err: err}
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			a       domain.Alert
			host    sql.NullString
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &host, &details, &a.Timestamp, &a.Acknowledged); err != nil {
			return nil, &domain.StorageError{Op: "query_alerts", Err: err}
		}
		a.Host = host.String
		if details != nil {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				s.logger.Warn("alert details are not valid json", "alert_id", a.ID, "error", err)
				a.Details = map[string]any{}
			}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query_alerts", Err: err}
	}
	return alerts, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return &domain.StorageError{Op: "acknowledge_alert", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageError{Op: "acknowledge_alert", Err: err}
	}
	if n == 0 {
		return fmt.Errorf("alert %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (s *Store) Close() error { return nil }
