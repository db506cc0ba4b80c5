package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/domain"
)

const payloadField = "payload"

// AlertStream publishes admitted alerts to a Redis Stream. While Redis is
// unreachable alerts go to the spool and are replayed once it recovers.
type AlertStream struct {
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	spool   domain.AlertSpool
	metrics *metrics.Metrics
	logger  *slog.Logger

	isAvailable atomic.Bool

	// spoolMu orders spool writes against replay+truncate so nothing written
	// mid-replay is truncated unsent.
	spoolMu sync.Mutex
}

// NewAlertStream creates a publisher for stream. spool and m may be nil.
func NewAlertStream(client redis.UniversalClient, stream string, maxLen int64, spool domain.AlertSpool, m *metrics.Metrics, logger *slog.Logger) *AlertStream {
	s := &AlertStream{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		spool:   spool,
		metrics: m,
		logger:  logger.With("component", "alert_stream", "stream", stream),
	}
	s.isAvailable.Store(true)
	return s
}

// Available reports whether the last interaction with Redis succeeded.
func (s *AlertStream) Available() bool {
	return s.isAvailable.Load()
}

// Publish appends each alert to the stream. Alerts that cannot be delivered
// because Redis is down are spooled; the call only fails if spooling fails too.
func (s *AlertStream) Publish(ctx context.Context, alerts []domain.Alert) error {
	var errs []error
	for _, a := range alerts {
		if err := s.publishOne(ctx, a); err != nil {
			s.observe("error")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *AlertStream) publishOne(ctx context.Context, a domain.Alert) error {
	if !s.isAvailable.Load() {
		return s.toSpool(ctx, a, nil)
	}

	err := s.add(ctx, a)
	if err == nil {
		s.observe("published")
		return nil
	}
	if !isNetworkError(err) {
		return err
	}
	if s.isAvailable.CompareAndSwap(true, false) {
		s.logger.Error("redis connection lost during publish", "error", err)
		s.setSpoolGauge(1)
	}
	return s.toSpool(ctx, a, err)
}

func (s *AlertStream) toSpool(ctx context.Context, a domain.Alert, cause error) error {
	if s.spool == nil {
		if cause == nil {
			cause = errors.New("redis is unavailable")
		}
		return fmt.Errorf("alert spool not configured: %w", cause)
	}

	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()

	// Redis may have recovered and the spool been replayed while we waited.
	if cause == nil && s.isAvailable.Load() {
		if err := s.add(ctx, a); err == nil {
			s.observe("published")
			return nil
		}
	}

	s.logger.Warn("redis unavailable, spooling alert", "alert_id", a.ID, "alert_type", a.Type)
	if err := s.spool.Write(ctx, a); err != nil {
		return fmt.Errorf("failed to spool alert %d: %w", a.ID, err)
	}
	s.observe("spooled")
	return nil
}

func (s *AlertStream) add(ctx context.Context, a domain.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{payloadField: payload},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD alert: %w", err)
	}
	return nil
}

// StartHealthCheck pings Redis every interval until ctx is done, flipping
// availability and replaying the spool when Redis comes back.
func (s *AlertStream) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *AlertStream) checkHealth(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		if s.isAvailable.CompareAndSwap(true, false) {
			s.logger.Error("redis connection lost", "error", err)
			s.setSpoolGauge(1)
		}
		return
	}
	if s.isAvailable.CompareAndSwap(false, true) {
		s.logger.Info("redis connection recovered")
		if err := s.ReplaySpool(ctx); err != nil {
			s.logger.Error("failed to replay alert spool", "error", err)
			s.isAvailable.Store(false)
			return
		}
		s.setSpoolGauge(0)
	}
}

// ReplaySpool pushes every spooled alert to Redis and truncates the spool.
func (s *AlertStream) ReplaySpool(ctx context.Context) error {
	if s.spool == nil {
		return nil
	}
	s.spoolMu.Lock()
	defer s.spoolMu.Unlock()

	if err := s.spool.Replay(ctx, func(a domain.Alert) error { return s.add(ctx, a) }); err != nil {
		return fmt.Errorf("spool replay failed: %w", err)
	}
	if err := s.spool.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate spool after replay: %w", err)
	}
	return nil
}

// Status reports stream length and consumer group progress.
func (s *AlertStream) Status(ctx context.Context) (domain.StreamStatus, error) {
	st := domain.StreamStatus{Stream: s.stream, Available: s.Available()}

	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return st, fmt.Errorf("failed to XLEN %s: %w", s.stream, err)
	}
	st.Length = n

	groups, err := s.client.XInfoGroups(ctx, s.stream).Result()
	if err != nil && !isNoSuchKey(err) {
		return st, fmt.Errorf("failed to get group info for %s: %w", s.stream, err)
	}
	for _, g := range groups {
		st.Groups = append(st.Groups, domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
			Lag:             g.Lag,
		})
	}
	return st, nil
}

func (s *AlertStream) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.PublishTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *AlertStream) setSpoolGauge(v float64) {
	if s.metrics != nil {
		s.metrics.SpoolActive.Set(v)
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}

func isNoSuchKey(err error) bool {
	return err != nil && err.Error() == "ERR no such key"
}
