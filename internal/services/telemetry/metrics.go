package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Readings        *prometheus.CounterVec
	Duration        prometheus.Histogram
	AlertEvents     *prometheus.CounterVec
	PublishFailures prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Readings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldalert_readings_total",
			Help: "Readings handled by the pipeline, by outcome.",
		}, []string{"outcome"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldalert_processing_seconds",
			Help:    "Time spent processing one reading.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		AlertEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldalert_alert_events_total",
			Help: "Alert status transitions emitted.",
		}, []string{"alert_type", "status"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fieldalert_publish_failures_total",
			Help: "Alert events that could not be published.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "fieldalert_dispatch_queue_depth",
			Help: "Readings waiting in the dispatcher shards.",
		}),
	}
}
