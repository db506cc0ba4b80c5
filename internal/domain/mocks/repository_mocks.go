package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// MockEventStore is an in-memory implementation of domain.EventStore for testing.
type MockEventStore struct {
	mu     sync.Mutex
	Logs   []domain.LogEntry
	Alerts []domain.Alert

	// Now overrides the clock used for window cutoffs and alert timestamps.
	Now func() time.Time

	InsertErr error
	QueryErr  error
	AlertErr  error
	PingErr   error

	// QueryCalls counts every windowed read.
	QueryCalls int
}

func (m *MockEventStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockEventStore) InsertLog(ctx context.Context, entry *domain.LogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return 0, m.InsertErr
	}
	entry.ID = int64(len(m.Logs) + 1)
	entry.CreatedAt = m.now()
	m.Logs = append(m.Logs, *entry)
	return entry.ID, nil
}

func (m *MockEventStore) InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AlertErr != nil {
		return 0, m.AlertErr
	}
	alert.ID = int64(len(m.Alerts) + 1)
	alert.Timestamp = m.now()
	alert.Acknowledged = false
	m.Alerts = append(m.Alerts, *alert)
	return alert.ID, nil
}

func (m *MockEventStore) QueryRecent(ctx context.Context, window time.Duration, host string) ([]domain.LogEntry, error) {
	return m.query(window, host, func(domain.LogEntry) bool { return true })
}

func (m *MockEventStore) QueryBySeverity(ctx context.Context, window time.Duration, severities []string, host string) ([]domain.LogEntry, error) {
	set := make(map[string]struct{}, len(severities))
	for _, s := range severities {
		set[s] = struct{}{}
	}
	return m.query(window, host, func(e domain.LogEntry) bool {
		_, ok := set[e.Severity]
		return ok
	})
}

func (m *MockEventStore) QueryByType(ctx context.Context, window time.Duration, logType, host string) ([]domain.LogEntry, error) {
	return m.query(window, host, func(e domain.LogEntry) bool { return e.LogType == logType })
}

func (m *MockEventStore) query(window time.Duration, host string, keep func(domain.LogEntry) bool) ([]domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	cutoff := m.now().Add(-window)
	var out []domain.LogEntry
	for _, e := range m.Logs {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if host != "" && e.Host != host {
			continue
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MockEventStore) QueryAlerts(ctx context.Context, limit int, acknowledged bool) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []domain.Alert
	for i := len(m.Alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Alerts[i].Acknowledged == acknowledged {
			out = append(out, m.Alerts[i])
		}
	}
	return out, nil
}

func (m *MockEventStore) AcknowledgeAlert(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Alerts {
		if m.Alerts[i].ID == id {
			m.Alerts[i].Acknowledged = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockEventStore) Ping(ctx context.Context) error { return m.PingErr }

func (m *MockEventStore) Close() error { return nil }

// MockAlertPublisher records published alerts.
type MockAlertPublisher struct {
	mu         sync.Mutex
	Published  []domain.Alert
	PublishErr error
}

func (m *MockAlertPublisher) Publish(ctx context.Context, alerts []domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, alerts...)
	return nil
}

// Count returns how many alerts were published so far.
func (m *MockAlertPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

// MockAlertSource serves queued messages and records acknowledgements.
type MockAlertSource struct {
	mu       sync.Mutex
	Pending  []domain.StreamedAlert
	Stale    []domain.StreamedAlert
	Acked    []string
	ReadErr  error
	ClaimErr error
	AckErr   error
}

func (m *MockAlertSource) Read(ctx context.Context, count int) ([]domain.StreamedAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	n := min(count, len(m.Pending))
	out := m.Pending[:n]
	m.Pending = m.Pending[n:]
	return out, nil
}

func (m *MockAlertSource) ClaimStale(ctx context.Context, minIdle time.Duration, count int) ([]domain.StreamedAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	out := m.Stale
	m.Stale = nil
	return out, nil
}

func (m *MockAlertSource) Ack(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acked = append(m.Acked, ids...)
	return nil
}

// MockNotifier records delivered alerts. FailFor makes delivery of the
// listed alert ids fail.
type MockNotifier struct {
	mu        sync.Mutex
	Delivered []domain.Alert
	FailFor   map[int64]error
	Attempts  int
}

func (m *MockNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
	if err := m.FailFor[alert.ID]; err != nil {
		return err
	}
	m.Delivered = append(m.Delivered, alert)
	return nil
}
