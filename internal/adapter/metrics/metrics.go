package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hostwatch"

// Metrics holds every Prometheus collector the service exports.
type Metrics struct {
	reg prometheus.Registerer

	EventsTotal *prometheus.CounterVec
	BytesTotal  prometheus.Counter

	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	AlertsTotal      *prometheus.CounterVec
	SuppressedTotal  *prometheus.CounterVec
	DetectorFailures *prometheus.CounterVec
	RulesReloads     prometheus.Counter

	PublishTotal *prometheus.CounterVec
	SpoolActive  prometheus.Gauge
	SSEClients   prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests
// so repeated construction does not collide with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of ingested records by status.",
		}, []string{"status"}), // status: accepted, error_validation, error_storage, error_size, error_media_type, error_parse
		BytesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of request body bytes ingested.",
		}),
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "cycles_total",
			Help:      "Analysis cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}), // trigger: scheduled, manual
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one analysis cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "alerts_total",
			Help:      "Alerts admitted and persisted, by type.",
		}, []string{"alert_type"}),
		SuppressedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "alerts_suppressed_total",
			Help:      "Detector findings dropped by the deduplicator, by type.",
		}, []string{"alert_type"}),
		DetectorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "detector_failures_total",
			Help:      "Detector evaluations that returned an error.",
		}, []string{"detector"}),
		RulesReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "rules_reloads_total",
			Help:      "Successful reloads of the detection rules file.",
		}),
		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "publish_total",
			Help:      "Alert publish attempts by outcome.",
		}, []string{"outcome"}), // outcome: published, spooled, error
		SpoolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "spool_active",
			Help:      "1 while alerts are written to the disk spool instead of Redis.",
		}),
		SSEClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "stream_clients",
			Help:      "Connected Server-Sent Events clients.",
		}),
	}
}

// TrackDedupKeys exports fn as the number of (host, alert type) keys held by
// the deduplicator. Call it once per Metrics.
func (m *Metrics) TrackDedupKeys(fn func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "dedup_keys",
		Help:      "Keys tracked by the alert deduplicator.",
	}, func() float64 { return float64(fn()) })
}
