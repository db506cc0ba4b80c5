package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// unknownSource stands in for connection records without a source address.
const unknownSource = "unknown"

// AbnormalConnections fires when a host records too many connections in the connection window.
type AbnormalConnections struct {
	src   domain.LogReader
	rules *Rules
	dedup *Deduplicator
}

func NewAbnormalConnections(src domain.LogReader, rules *Rules, dedup *Deduplicator) *AbnormalConnections {
	return &AbnormalConnections{src: src, rules: rules, dedup: dedup}
}

func (d *AbnormalConnections) Name() string { return domain.AlertAbnormalConnections }

func (d *AbnormalConnections) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	t := d.rules.Load()

	entries, err := d.src.QueryByType(ctx, t.ConnectionWindow, domain.LogTypeConnection, "")
	if err != nil {
		return nil, fmt.Errorf("query connection entries: %w", err)
	}

	groups, hosts := groupByHost(entries)
	var alerts []domain.Alert
	for _, host := range hosts {
		conns := groups[host]
		if len(conns) < t.ConnectionThreshold {
			continue
		}
		if !d.dedup.Admit(host, domain.AlertAbnormalConnections, ShortCooldown) {
			continue
		}

		sources := make(map[string]struct{})
		for _, c := range conns {
			src := c.Data.SourceIP()
			if src == "" {
				src = unknownSource
			}
			sources[src] = struct{}{}
		}

		window := int(t.ConnectionWindow.Seconds())
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertAbnormalConnections,
			Severity: domain.AlertSeverityMedium,
			Message: fmt.Sprintf("Abnormal connections detected on %s: %d connections from %d source(s) in the last %d seconds",
				host, len(conns), len(sources), window),
			Host: host,
			Details: map[string]any{
				"connection_count":    len(conns),
				"unique_sources":      len(sources),
				"time_window_seconds": window,
				"connections":         samples(conns),
			},
		})
	}
	return alerts, nil
}
