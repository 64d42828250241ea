// Package metrics exposes Prometheus instrumentation for refresh activity and
// lake state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

// Metrics holds all collectors on a private registry so tests can create
// instances without fighting over the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec // by source and status (success/failure)
	refreshDuration *prometheus.HistogramVec
	bytesDownloaded *prometheus.CounterVec

	lakeStatus      *prometheus.GaugeVec // 0 error, 1 stale, 2 fresh
	lakeTemperature *prometheus.GaugeVec

	datasetInterval *prometheus.GaugeVec // effective refresh interval in seconds
	lastRefresh     *prometheus.GaugeVec // unix timestamp of last successful refresh
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laketemp",
			Subsystem: "refresh",
			Name:      "attempts_total",
			Help:      "Total refresh attempts by source and outcome",
		}, []string{"source", "status"}),

		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "laketemp",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Refresh duration (fetch plus parse) in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"source"}),

		bytesDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laketemp",
			Subsystem: "refresh",
			Name:      "bytes_total",
			Help:      "Total payload bytes downloaded by source",
		}, []string{"source"}),

		lakeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laketemp",
			Subsystem: "lake",
			Name:      "status",
			Help:      "Lake data status: 0 error, 1 stale, 2 fresh",
		}, []string{"entity_id"}),

		lakeTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laketemp",
			Subsystem: "lake",
			Name:      "temperature_celsius",
			Help:      "Latest water temperature per lake in Celsius",
		}, []string{"entity_id"}),

		datasetInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laketemp",
			Subsystem: "dataset",
			Name:      "effective_interval_seconds",
			Help:      "Current effective refresh interval per dataset, backoff included",
		}, []string{"source"}),

		lastRefresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "laketemp",
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh by source",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.refreshes,
		m.refreshDuration,
		m.bytesDownloaded,
		m.lakeStatus,
		m.lakeTemperature,
		m.datasetInterval,
		m.lastRefresh,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRefresh counts one refresh attempt and its duration.
func (m *Metrics) RecordRefresh(source laketemp.SourceType, success bool, seconds float64, byteSize int) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.refreshes.WithLabelValues(string(source), status).Inc()
	m.refreshDuration.WithLabelValues(string(source)).Observe(seconds)
	if byteSize > 0 {
		m.bytesDownloaded.WithLabelValues(string(source)).Add(float64(byteSize))
	}
}

// MarkRefreshSuccess stamps the last successful refresh time.
func (m *Metrics) MarkRefreshSuccess(source laketemp.SourceType, unixSeconds float64) {
	if m == nil {
		return
	}
	m.lastRefresh.WithLabelValues(string(source)).Set(unixSeconds)
}

// SetLakeStatus mirrors a lake's freshness into the status gauge.
func (m *Metrics) SetLakeStatus(entityID string, status laketemp.Status) {
	if m == nil {
		return
	}
	var v float64
	switch status {
	case laketemp.StatusFresh:
		v = 2
	case laketemp.StatusStale:
		v = 1
	}
	m.lakeStatus.WithLabelValues(entityID).Set(v)
}

// SetLakeTemperature publishes the latest reading value.
func (m *Metrics) SetLakeTemperature(entityID string, celsius float64) {
	if m == nil {
		return
	}
	m.lakeTemperature.WithLabelValues(entityID).Set(celsius)
}

// SetEffectiveInterval publishes a dataset's current refresh interval.
func (m *Metrics) SetEffectiveInterval(source laketemp.SourceType, seconds float64) {
	if m == nil {
		return
	}
	m.datasetInterval.WithLabelValues(string(source)).Set(seconds)
}
