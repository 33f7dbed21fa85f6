// Package metrics exposes scanner counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// Metrics collectors of one scanner process, registered on a private registry.
type Metrics struct {
	Verdicts      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	SlotLookups   *prometheus.CounterVec
	PoolsLoaded   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokensieve_verdicts_total",
			Help: "Token verdicts by status and honeypot reason",
		}, []string{"status", "reason"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokensieve_stage_duration_seconds",
			Help:    "Duration of classification stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
		SlotLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokensieve_slot_lookups_total",
			Help: "Uncached balance slot lookups by outcome",
		}, []string{"outcome"}),
		PoolsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokensieve_pools_loaded",
			Help: "Pools in the current pool list",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.Verdicts, m.StageDuration, m.SlotLookups, m.PoolsLoaded)
	return m
}

// ObserveVerdict counts a final verdict.
func (m *Metrics) ObserveVerdict(v domain.Verdict) {
	m.Verdicts.WithLabelValues(string(v.Status), v.Reason).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage domain.Stage, d time.Duration) {
	m.StageDuration.WithLabelValues(stage.String()).Observe(d.Seconds())
}

// SlotLookup counts a balance slot lookup outcome.
func (m *Metrics) SlotLookup(outcome string) {
	m.SlotLookups.WithLabelValues(outcome).Inc()
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
