package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// Score weights and trigger levels for correlated events.
const (
	correlatedErrorsAbove      = 5
	correlatedWarningsAbove    = 10
	correlatedConnectionsAbove = 10
	correlatedAlertScore       = 3
	correlatedCriticalScore    = 4
)

// hostSignals are the per-host counters the suspicion score is built from.
type hostSignals struct {
	Errors      int  `json:"errors"`
	Warnings    int  `json:"warnings"`
	HighCPU     bool `json:"high_cpu"`
	HighMemory  bool `json:"high_memory"`
	Connections int  `json:"connections"`
}

// score returns the suspicion score and a human readable list of what contributed.
func (s hostSignals) score() (int, []string) {
	var score int
	var issues []string
	if s.Errors > correlatedErrorsAbove {
		score += 2
		issues = append(issues, fmt.Sprintf("%d errors", s.Errors))
	}
	if s.Warnings > correlatedWarningsAbove {
		score++
		issues = append(issues, fmt.Sprintf("%d warnings", s.Warnings))
	}
	if s.HighCPU {
		score++
		issues = append(issues, "high CPU")
	}
	if s.HighMemory {
		score++
		issues = append(issues, "high memory")
	}
	if s.Connections > correlatedConnectionsAbove {
		score++
		issues = append(issues, fmt.Sprintf("%d connections", s.Connections))
	}
	return score, issues
}

// CorrelatedEvents combines several weak signals on one host into a single suspicion score.
type CorrelatedEvents struct {
	src   domain.LogReader
	rules *Rules
	dedup *Deduplicator
}

func NewCorrelatedEvents(src domain.LogReader, rules *Rules, dedup *Deduplicator) *CorrelatedEvents {
	return &CorrelatedEvents{src: src, rules: rules, dedup: dedup}
}

func (d *CorrelatedEvents) Name() string { return domain.AlertCorrelatedEvents }

func (d *CorrelatedEvents) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	t := d.rules.Load()

	entries, err := d.src.QueryRecent(ctx, t.ResourceWindow, "")
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}

	groups, hosts := groupByHost(entries)
	var alerts []domain.Alert
	for _, host := range hosts {
		sig := collectSignals(groups[host], t)
		score, issues := sig.score()
		if score < correlatedAlertScore {
			continue
		}

		severity, cooldown := domain.AlertSeverityHigh, ShortCooldown
		if score >= correlatedCriticalScore {
			severity, cooldown = domain.AlertSeverityCritical, LongCooldown
		}
		if !d.dedup.Admit(host, domain.AlertCorrelatedEvents, cooldown) {
			continue
		}

		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertCorrelatedEvents,
			Severity: severity,
			Message:  fmt.Sprintf("Suspicious correlated events on %s: %s", host, strings.Join(issues, ", ")),
			Host:     host,
			Details: map[string]any{
				"suspicious_score": score,
				"events":           sig,
			},
		})
	}
	return alerts, nil
}

func collectSignals(entries []domain.LogEntry, t Thresholds) hostSignals {
	var s hostSignals
	for _, e := range entries {
		switch e.Severity {
		case domain.SeverityError, domain.SeverityCritical:
			s.Errors++
		case domain.SeverityWarning:
			s.Warnings++
		}
		if e.LogType == domain.LogTypeConnection {
			s.Connections++
		}
		if v, ok := e.Data.Metric(domain.FieldCPUPercent); ok && v > t.HighCPU {
			s.HighCPU = true
		}
		if v, ok := e.Data.Metric(domain.FieldMemoryPercent); ok && v > t.HighMemory {
			s.HighMemory = true
		}
	}
	return s
}
