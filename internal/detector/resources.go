package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/V4T54L/hostwatch/internal/domain"
)

type resourceMetric struct {
	field     string
	alertType string
	short     string
	label     string
	threshold func(Thresholds) float64
}

var resourceMetrics = []resourceMetric{
	{domain.FieldCPUPercent, domain.AlertHighCPU, "cpu", "High CPU", func(t Thresholds) float64 { return t.HighCPU }},
	{domain.FieldMemoryPercent, domain.AlertHighMemory, "memory", "High memory", func(t Thresholds) float64 { return t.HighMemory }},
	{domain.FieldDiskPercent, domain.AlertHighDisk, "disk", "Disk nearly full", func(t Thresholds) float64 { return t.HighDisk }},
}

// ResourceAnomaly inspects cpu, memory and disk series reported by system
// records. Each metric fires on its own when the host's peak crosses the
// threshold; a sustained breach (average also above) is reported as high.
type ResourceAnomaly struct {
	src   domain.LogReader
	rules *Rules
	dedup *Deduplicator
}

func NewResourceAnomaly(src domain.LogReader, rules *Rules, dedup *Deduplicator) *ResourceAnomaly {
	return &ResourceAnomaly{src: src, rules: rules, dedup: dedup}
}

func (d *ResourceAnomaly) Name() string { return "resource_anomaly" }

func (d *ResourceAnomaly) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	t := d.rules.Load()

	entries, err := d.src.QueryByType(ctx, t.ResourceWindow, domain.LogTypeSystem, "")
	if err != nil {
		return nil, fmt.Errorf("query system entries: %w", err)
	}

	groups, hosts := groupByHost(entries)
	var alerts []domain.Alert
	for _, host := range hosts {
		for _, m := range resourceMetrics {
			series := metricSeries(groups[host], m.field)
			if len(series) == 0 {
				continue
			}
			peak, avg := maxAvg(series)
			threshold := m.threshold(t)
			if peak < threshold {
				continue
			}
			if !d.dedup.Admit(host, m.alertType, LongCooldown) {
				continue
			}

			severity := domain.AlertSeverityWarning
			if avg >= threshold {
				severity = domain.AlertSeverityHigh
			}
			alerts = append(alerts, domain.Alert{
				Type:     m.alertType,
				Severity: severity,
				Message:  fmt.Sprintf("%s on %s: %.1f%% (average: %.1f%%)", m.label, host, peak, avg),
				Host:     host,
				Details: map[string]any{
					"max_" + m.short: peak,
					"avg_" + m.short: avg,
					"threshold":      threshold,
				},
			})
		}
	}
	return alerts, nil
}

// metricSeries collects one metric across entries, skipping entries that did not report it.
func metricSeries(entries []domain.LogEntry, field string) []float64 {
	var out []float64
	for _, e := range entries {
		if v, ok := e.Data.Metric(field); ok {
			out = append(out, v)
		}
	}
	return out
}

func maxAvg(series []float64) (peak, avg float64) {
	peak = series[0]
	var sum float64
	for _, v := range series {
		peak = max(peak, v)
		sum += v
	}
	return peak, sum / float64(len(series))
}
