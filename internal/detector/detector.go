// Package detector holds the rule-based evaluators run on every analysis
// cycle and the deduplicator that gates what they emit.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// maxSamples bounds how many raw entries an alert carries in its details.
const maxSamples = 10

// Detector evaluates one rule against a fresh snapshot of the store.
// Implementations must consult the Deduplicator before building an alert.
type Detector interface {
	Name() string
	Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error)
}

// Result is the outcome of one detector in one cycle: either alerts or an error.
type Result struct {
	Detector string
	Alerts   []domain.Alert
	Err      error
}

// Set runs the four built-in detectors.
type Set struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewSet wires the built-in detectors to src, rules and dedup.
func NewSet(src domain.LogReader, rules *Rules, dedup *Deduplicator, logger *slog.Logger) *Set {
	return NewSetWith(logger,
		NewErrorRepetition(src, rules, dedup),
		NewAbnormalConnections(src, rules, dedup),
		NewResourceAnomaly(src, rules, dedup),
		NewCorrelatedEvents(src, rules, dedup),
	)
}

// NewSetWith builds a Set from arbitrary detectors.
func NewSetWith(logger *slog.Logger, detectors ...Detector) *Set {
	return &Set{
		detectors: detectors,
		logger:    logger.With("component", "detector_set"),
	}
}

// Run evaluates every detector regardless of whether earlier ones fired or failed.
func (s *Set) Run(ctx context.Context, now time.Time) []Result {
	results := make([]Result, 0, len(s.detectors))
	for _, d := range s.detectors {
		res := s.evaluate(ctx, d, now)
		for _, a := range res.Alerts {
			level := slog.LevelWarn
			if a.Severity == domain.AlertSeverityCritical {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "alert raised",
				"alert_type", a.Type, "severity", a.Severity, "host", a.Host, "message", a.Message)
		}
		results = append(results, res)
	}
	return results
}

func (s *Set) evaluate(ctx context.Context, d Detector, now time.Time) (res Result) {
	res.Detector = d.Name()
	defer func() {
		if r := recover(); r != nil {
			res.Alerts = nil
			res.Err = &domain.DetectorError{Detector: d.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	alerts, err := d.Evaluate(ctx, now)
	if err != nil {
		res.Err = &domain.DetectorError{Detector: d.Name(), Err: err}
		return res
	}
	res.Alerts = alerts
	return res
}

// groupByHost buckets entries by host and returns the hosts in sorted order.
func groupByHost(entries []domain.LogEntry) (map[string][]domain.LogEntry, []string) {
	groups := make(map[string][]domain.LogEntry)
	for _, e := range entries {
		host := e.Host
		if host == "" {
			host = "unknown"
		}
		groups[host] = append(groups[host], e)
	}
	hosts := make([]string, 0, len(groups))
	for h := range groups {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return groups, hosts
}

func samples(entries []domain.LogEntry) []domain.LogEntry {
	n := min(len(entries), maxSamples)
	return append([]domain.LogEntry(nil), entries[:n]...)
}
