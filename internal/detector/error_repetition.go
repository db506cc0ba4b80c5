package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

var errorSeverities = []string{domain.SeverityError, domain.SeverityCritical, domain.SeverityWarning}

// ErrorRepetition fires when a host logs too many warning-or-worse entries in the error window.
type ErrorRepetition struct {
	src   domain.LogReader
	rules *Rules
	dedup *Deduplicator
}

func NewErrorRepetition(src domain.LogReader, rules *Rules, dedup *Deduplicator) *ErrorRepetition {
	return &ErrorRepetition{src: src, rules: rules, dedup: dedup}
}

func (d *ErrorRepetition) Name() string { return domain.AlertErrorRepetition }

func (d *ErrorRepetition) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	t := d.rules.Load()

	entries, err := d.src.QueryBySeverity(ctx, t.ErrorWindow, errorSeverities, "")
	if err != nil {
		return nil, fmt.Errorf("query error entries: %w", err)
	}

	groups, hosts := groupByHost(entries)
	var alerts []domain.Alert
	for _, host := range hosts {
		errs := groups[host]
		if len(errs) < t.ErrorThreshold {
			continue
		}
		if !d.dedup.Admit(host, domain.AlertErrorRepetition, ShortCooldown) {
			continue
		}

		window := int(t.ErrorWindow.Seconds())
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertErrorRepetition,
			Severity: domain.AlertSeverityHigh,
			Message: fmt.Sprintf("Error repetition detected on %s: %d errors in the last %d seconds",
				host, len(errs), window),
			Host: host,
			Details: map[string]any{
				"error_count":         len(errs),
				"time_window_seconds": window,
				"errors":              samples(errs),
			},
		})
	}
	return alerts, nil
}
