// Package sqlite implements domain.EventStore on an embedded single-file
// SQLite database. Every operation takes an exclusive lock for its duration.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// timeLayout is fixed width so that lexical order of the stored text equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const logColumns = "id, host, timestamp, log_type, severity, message, data, created_at"

const alertColumns = "id, alert_type, severity, message, host, details, timestamp, acknowledged"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		log_type TEXT NOT NULL,
		severity TEXT,
		message TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		host TEXT,
		details TEXT,
		timestamp TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_host ON logs(host)`,
	`CREATE INDEX IF NOT EXISTS idx_timestamp ON logs(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_log_type ON logs(log_type)`,
	`CREATE INDEX IF NOT EXISTS idx_severity ON logs(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_timestamp ON alerts(timestamp)`,
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for window cutoffs and server-side timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a SQLite-backed domain.EventStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	s, err := New(db, logger, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and applies the schema.
func New(db *sql.DB, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.With("component", "sqlite_store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, &domain.StorageError{Op: "migrate", Err: err}
		}
	}
	return s, nil
}

// InsertLog persists entry and assigns its ID.
func (s *Store) InsertLog(ctx context.Context, entry *domain.LogEntry) (int64, error) {
	if err := entry.CheckSchema(); err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: err}
	}
	data, err := entry.Data.Encode()
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: fmt.Errorf("encode data: %w", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (host, timestamp, log_type, severity, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Host, formatTime(entry.Timestamp), entry.LogType, entry.Severity, entry.Message, string(data), formatTime(createdAt),
	)
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_log", Err: err}
	}

	entry.ID = id
	entry.CreatedAt = createdAt
	return id, nil
}

// InsertAlert persists alert with a server-side timestamp and acknowledged=false.
func (s *Store) InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	var details sql.NullString
	if alert.Details != nil {
		b, err := json.Marshal(alert.Details)
		if err != nil {
			return 0, &domain.StorageError{Op: "insert_alert", Err: fmt.Errorf("encode details: %w", err)}
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	host := sql.NullString{String: alert.Host, Valid: alert.Host != ""}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_type, severity, message, host, details, timestamp, acknowledged) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		alert.Type, alert.Severity, alert.Message, host, details, formatTime(ts),
	)
	if err != nil {
		return 0, &domain.StorageError{Op: "insert_alert", Err: err}
	}
	id, err := res.LastInsertId()
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
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(severities)), ", ")
	args := make([]any, len(severities))
	for i, sev := range severities {
		args[i] = sev
	}
	return s.queryLogs(ctx, "query_by_severity", window, host, "severity IN ("+placeholders+")", args...)
}

func (s *Store) QueryByType(ctx context.Context, window time.Duration, logType, host string) ([]domain.LogEntry, error) {
	return s.queryLogs(ctx, "query_by_type", window, host, "log_type = ?", logType)
}

func (s *Store) queryLogs(ctx context.Context, op string, window time.Duration, host, cond string, condArgs ...any) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + logColumns + ` FROM logs WHERE timestamp >= ?`
	args := []any{formatTime(s.now().Add(-window))}
	if cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	if host != "" {
		query += " AND host = ?"
		args = append(args, host)
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return entries, nil
}

func (s *Store) QueryAlerts(ctx context.Context, limit int, acknowledged bool) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE acknowledged = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		boolToInt(acknowledged), limit,
	)
	if err != nil {
		return nil, &domain.StorageError{Op: "query_alerts", Err: err}
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "query_alerts", Err: err}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "query_alerts", Err: err}
	}
	return alerts, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
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

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (domain.LogEntry, error) {
	var (
		e                 domain.LogEntry
		ts, createdAt     string
		severity, message sql.NullString
		data              sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Host, &ts, &e.LogType, &severity, &message, &data, &createdAt); err != nil {
		return e, err
	}
	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, fmt.Errorf("log %d: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, fmt.Errorf("log %d: %w", e.ID, err)
	}
	e.Severity = severity.String
	e.Message = message.String
	e.Data = domain.DecodeLogData(e.LogType, []byte(data.String))
	return e, nil
}

func scanAlert(row scanner) (domain.Alert, error) {
	var (
		a             domain.Alert
		host, details sql.NullString
		ts            string
		acknowledged  int
	)
	if err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &host, &details, &ts, &acknowledged); err != nil {
		return a, err
	}
	var err error
	if a.Timestamp, err = parseTime(ts); err != nil {
		return a, fmt.Errorf("alert %d: %w", a.ID, err)
	}
	a.Host = host.String
	a.Acknowledged = acknowledged != 0
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
			a.Details = map[string]any{}
		}
	}
	return a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(domain.ErrSchemaViolation, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
