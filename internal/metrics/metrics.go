// Package metrics exposes the pipeline counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"arbwatch/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbwatch"

// Metrics owns a private registry so tests and multiple monitors never clash
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	SnapshotsFetched   *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	DataUnavailable    *prometheus.CounterVec
	SpreadAttempts     *prometheus.CounterVec
	Opportunities      prometheus.Counter
	OpportunityPairs   *prometheus.CounterVec
	AlertsAdmitted     prometheus.Counter
	AlertsRejected     *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	LastSuccessfulTick prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SnapshotsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_fetched_total",
			Help:      "Snapshots successfully fetched per exchange.",
		}, []string{"exchange"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Snapshot fetches that failed or timed out per exchange.",
		}, []string{"exchange"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of snapshot fetches per exchange.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange"}),
		DataUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_unavailable_total",
			Help:      "Data quality events that excluded an exchange or pair from a tick.",
		}, []string{"reason"}),
		SpreadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spread_attempts_total",
			Help:      "Spread evaluations grouped by outcome.",
		}, []string{"status"}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_computed_total",
			Help:      "Positive spread opportunities computed.",
		}),
		OpportunityPairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spread_opportunities_total",
			Help:      "Positive spread opportunities by exchange pair.",
		}, []string{"buy_exchange", "sell_exchange"}),
		AlertsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_admitted_total",
			Help:      "Opportunities admitted by the alert rule.",
		}),
		AlertsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Opportunities rejected by the alert rule, by reason.",
		}, []string{"reason"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery attempts by sink and outcome.",
		}, []string{"sink", "status"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full monitor tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccessfulTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_tick_timestamp_seconds",
			Help:      "Unix time of the last tick that produced at least one snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SnapshotsFetched,
		m.FetchFailures,
		m.FetchDuration,
		m.DataUnavailable,
		m.SpreadAttempts,
		m.Opportunities,
		m.OpportunityPairs,
		m.AlertsAdmitted,
		m.AlertsRejected,
		m.Deliveries,
		m.TickDuration,
		m.LastSuccessfulTick,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) SnapshotFetched(exchange string, took time.Duration) {
	m.SnapshotsFetched.WithLabelValues(exchange).Inc()
	m.FetchDuration.WithLabelValues(exchange).Observe(took.Seconds())
}

func (m *Metrics) FetchFailed(exchange string, took time.Duration) {
	m.FetchFailures.WithLabelValues(exchange).Inc()
	m.FetchDuration.WithLabelValues(exchange).Observe(took.Seconds())
	m.DataUnavailable.WithLabelValues("unreachable").Inc()
}

func (m *Metrics) DataSkipped(reason string) {
	m.DataUnavailable.WithLabelValues(reason).Inc()
}

func (m *Metrics) SpreadAttempt(status string) {
	m.SpreadAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) OpportunityComputed(buyExchange, sellExchange string) {
	m.Opportunities.Inc()
	m.OpportunityPairs.WithLabelValues(buyExchange, sellExchange).Inc()
}

func (m *Metrics) AlertAdmitted() { m.AlertsAdmitted.Inc() }

func (m *Metrics) AlertRejected(reason string) {
	m.AlertsRejected.WithLabelValues(reason).Inc()
}

// RecordDelivery implements alert.DeliveryRecorder.
func (m *Metrics) RecordDelivery(sink string, status model.DeliveryStatus) {
	m.Deliveries.WithLabelValues(sink, string(status)).Inc()
}

func (m *Metrics) TickCompleted(at time.Time, took time.Duration, successful bool) {
	m.TickDuration.Observe(took.Seconds())
	if successful {
		m.LastSuccessfulTick.Set(float64(at.Unix()))
	}
}
