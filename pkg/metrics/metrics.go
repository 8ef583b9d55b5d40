// Package metrics defines the Prometheus metric collectors used by the audit
// pipeline and serves them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the pipeline. A nil *Metrics is
// accepted by every component and disables recording.
type Metrics struct {
	QueueDepth             prometheus.Gauge
	QueueEnqueuedTotal     prometheus.Counter
	QueueRejectedTotal     prometheus.Counter
	EventsStoredTotal      *prometheus.CounterVec
	EventsDroppedTotal     *prometheus.CounterVec
	WriteFailuresTotal     prometheus.Counter
	WriteDuration          prometheus.Histogram
	PartitionsCreatedTotal prometheus.Counter
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	MessagesConsumedTotal  prometheus.Counter
	NotificationsTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "glitter_queue_depth",
				Help: "Number of raw events waiting in the ingestion queue.",
			},
		),
		QueueEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_queue_enqueued_total",
				Help: "Total raw events accepted by the ingestion queue.",
			},
		),
		QueueRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_queue_rejected_total",
				Help: "Total raw events rejected because the queue was full or closed.",
			},
		),
		EventsStoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glitter_events_stored_total",
				Help: "Total audit records written by event name.",
			},
			[]string{"event_name"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glitter_events_dropped_total",
				Help: "Total raw events dropped before storage by reason (malformed, null).",
			},
			[]string{"reason"},
		),
		WriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_write_failures_total",
				Help: "Total failed writes to the document store.",
			},
		),
		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "glitter_write_duration_seconds",
				Help:    "Latency of a single audit record write in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		PartitionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_partitions_created_total",
				Help: "Total monthly partitions created.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_history_cache_hits_total",
				Help: "Total history cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_history_cache_misses_total",
				Help: "Total history cache misses.",
			},
		),
		MessagesConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "glitter_kafka_messages_consumed_total",
				Help: "Total webhook messages consumed from Kafka.",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "glitter_notifications_total",
				Help: "Completion notifications by outcome (published, dropped, failed).",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.QueueEnqueuedTotal,
		m.QueueRejectedTotal,
		m.EventsStoredTotal,
		m.EventsDroppedTotal,
		m.WriteFailuresTotal,
		m.WriteDuration,
		m.PartitionsCreatedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.MessagesConsumedTotal,
		m.NotificationsTotal,
	)

	return m
}
