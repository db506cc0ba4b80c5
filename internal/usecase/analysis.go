package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/detector"
	"github.com/V4T54L/hostwatch/internal/domain"
)

const (
	triggerScheduled = "scheduled"
	triggerManual    = "manual"

	defaultAnalysisInterval = 30 * time.Second
	defaultStopTimeout      = 5 * time.Second
)

// Evaluator runs every detector once. *detector.Set satisfies it.
type Evaluator interface {
	Run(ctx context.Context, now time.Time) []detector.Result
}

// SchedulerConfig controls the background analysis loop.
type SchedulerConfig struct {
	Interval    time.Duration
	StopTimeout time.Duration
}

// CorrelationScheduler runs the detectors on an interval, persists what they
// admit and fans the persisted alerts out to publishers.
type CorrelationScheduler struct {
	evaluator  Evaluator
	store      domain.EventStore
	publishers []domain.AlertPublisher
	cfg        SchedulerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewCorrelationScheduler creates an idle scheduler. m may be nil. Non-positive
// durations in cfg fall back to 30s and 5s.
func NewCorrelationScheduler(evaluator Evaluator, store domain.EventStore, publishers []domain.AlertPublisher, cfg SchedulerConfig, m *metrics.Metrics, logger *slog.Logger) *CorrelationScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultAnalysisInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &CorrelationScheduler{
		evaluator:  evaluator,
		store:      store,
		publishers: publishers,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With("component", "correlation_scheduler"),
		now:        time.Now,
	}
}

// Start launches the background loop. Calling it while running only logs a
// warning, and so does calling it while a loop detached by a timed out Stop
// is still finishing its cycle. Cancelling ctx does not abort a cycle in
// flight; only Stop ends the loop.
func (s *CorrelationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.logger.Warn("previous analysis loop still finishing, not starting")
			return
		}
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(context.WithoutCancel(ctx), s.stop, s.done)
	s.logger.Info("scheduler started", "interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits up to the configured timeout for
// the cycle in flight to finish. It returns false if the wait timed out.
func (s *CorrelationScheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return true
	case <-timer.C:
		s.logger.Warn("scheduler did not stop in time, detaching", "timeout", s.cfg.StopTimeout)
		return false
	}
}

// Running reports whether the background loop is active.
func (s *CorrelationScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *CorrelationScheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		if _, err := s.RunCycle(ctx, triggerScheduled); err != nil {
			s.logger.Error("analysis cycle failed", "error", err)
		}
		timer.Reset(s.cfg.Interval)
	}
}

// TriggerManual runs one cycle synchronously. On failure it returns an empty
// slice together with the error.
func (s *CorrelationScheduler) TriggerManual(ctx context.Context) ([]domain.Alert, error) {
	alerts, err := s.RunCycle(ctx, triggerManual)
	if err != nil {
		s.logger.Error("manual analysis failed", "error", err)
		return []domain.Alert{}, err
	}
	return alerts, nil
}

// RunCycle evaluates every detector, persists the admitted alerts and
// publishes those that were stored. Detector failures are logged and do not
// fail the cycle; persistence failures do.
func (s *CorrelationScheduler) RunCycle(ctx context.Context, trigger string) (alerts []domain.Alert, err error) {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "trigger", trigger)

	ctx, span := tracer.Start(ctx, "AnalysisCycle")
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("trigger", trigger))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			alerts = nil
			err = fmt.Errorf("analysis cycle panicked: %v", r)
		}
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "cycle failed")
		}
		span.SetAttributes(attribute.Int("alerts", len(alerts)))
		span.End()
		if s.metrics != nil {
			s.metrics.CyclesTotal.WithLabelValues(trigger, outcome).Inc()
			s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	results := s.evaluator.Run(ctx, s.now())

	var candidates []domain.Alert
	for _, res := range results {
		if res.Err != nil {
			logger.Error("detector failed", "detector", res.Detector, "error", res.Err)
			if s.metrics != nil {
				s.metrics.DetectorFailures.WithLabelValues(res.Detector).Inc()
			}
			continue
		}
		candidates = append(candidates, res.Alerts...)
	}

	persisted, err := s.persist(ctx, candidates)
	if len(persisted) > 0 {
		s.publish(ctx, logger, persisted)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("analysis cycle finished", "alerts", len(persisted), "duration", time.Since(start))
	return persisted, nil
}

func (s *CorrelationScheduler) persist(ctx context.Context, candidates []domain.Alert) ([]domain.Alert, error) {
	persisted := make([]domain.Alert, 0, len(candidates))
	var errs []error
	for i := range candidates {
		a := candidates[i]
		if _, err := s.store.InsertAlert(ctx, &a); err != nil {
			errs = append(errs, fmt.Errorf("persist %s alert for %q: %w", a.Type, a.Host, err))
			continue
		}
		persisted = append(persisted, a)
		if s.metrics != nil {
			s.metrics.AlertsTotal.WithLabelValues(a.Type).Inc()
		}
	}
	return persisted, errors.Join(errs...)
}

func (s *CorrelationScheduler) publish(ctx context.Context, logger *slog.Logger, alerts []domain.Alert) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, alerts); err != nil {
			logger.Error("failed to publish alerts", "count", len(alerts), "error", err)
		}
	}
}
