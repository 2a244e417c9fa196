// Package metrics exposes the kernel's Prometheus gauges/counters/
// histograms, registered once via promauto and served on /metrics.
// Naming and registration style follow the loom repo's
// internal/metrics/metrics.go: a single struct of *Vec fields built with
// promauto.New*, a package-level sync.Once guarding one shared instance,
// and small Record* helpers next to the fields they update.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the kernel registers.
type Metrics struct {
	WorkcellsInFlight   prometheus.Gauge
	WorkcellsTotal      *prometheus.CounterVec
	WorkcellDuration    *prometheus.HistogramVec
	TokenBudgetUsed     prometheus.Gauge
	TokenBudgetTotal    prometheus.Gauge
	GatePassTotal       *prometheus.CounterVec
	GateFailTotal       *prometheus.CounterVec
	DispatchCostUSD     *prometheus.CounterVec
	SpeculateGroupsTotal *prometheus.CounterVec
	TickDuration        prometheus.Histogram
	TickAdmitted        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	once   sync.Once
	shared *Metrics
)

// New returns the process-wide Metrics instance, registering its
// collectors with the default registry exactly once.
func New() *Metrics {
	once.Do(func() {
		shared = &Metrics{
			WorkcellsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cyntra_workcells_in_flight",
				Help: "Number of workcells currently running.",
			}),
			WorkcellsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_workcells_total",
					Help: "Total workcells created, by terminal status.",
				},
				[]string{"status"},
			),
			WorkcellDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cyntra_workcell_duration_seconds",
					Help:    "Wall-clock time from workcell creation to its final proof.",
					Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5s to ~2.8h
				},
				[]string{"toolchain", "status"},
			),
			TokenBudgetUsed: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cyntra_token_budget_used",
				Help: "Estimated tokens committed by in-flight workcells.",
			}),
			TokenBudgetTotal: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cyntra_token_budget_total",
				Help: "Configured max_concurrent_tokens.",
			}),
			GatePassTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_gate_pass_total",
					Help: "Quality gate evaluations that passed, by gate name.",
				},
				[]string{"gate"},
			),
			GateFailTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_gate_fail_total",
					Help: "Quality gate evaluations that failed, by gate name.",
				},
				[]string{"gate"},
			),
			DispatchCostUSD: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_dispatch_cost_usd_total",
					Help: "Accumulated estimated cost in USD, by toolchain.",
				},
				[]string{"toolchain"},
			),
			SpeculateGroupsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_speculate_groups_total",
					Help: "Speculate groups completed, by whether a verified candidate won the vote.",
				},
				[]string{"verified_winner"},
			),
			TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cyntra_scheduler_tick_duration_seconds",
				Help:    "Wall-clock time spent in one Scheduler.Tick call.",
				Buckets: prometheus.DefBuckets,
			}),
			TickAdmitted: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cyntra_scheduler_tick_admitted",
				Help: "Number of runs admitted by the most recent tick.",
			}),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cyntra_http_requests_total",
					Help: "Total control-API HTTP requests.",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cyntra_http_request_duration_seconds",
					Help:    "Control-API HTTP request duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})
	return shared
}

// RecordWorkcellFinished updates the in-flight gauge, terminal-status
// counter, and duration histogram for a completed workcell.
func (m *Metrics) RecordWorkcellFinished(toolchain, status string, duration float64) {
	m.WorkcellsInFlight.Dec()
	m.WorkcellsTotal.WithLabelValues(status).Inc()
	m.WorkcellDuration.WithLabelValues(toolchain, status).Observe(duration)
}

// RecordGateResult increments the pass/fail counter for a single quality gate.
func (m *Metrics) RecordGateResult(gate string, passed bool) {
	if passed {
		m.GatePassTotal.WithLabelValues(gate).Inc()
		return
	}
	m.GateFailTotal.WithLabelValues(gate).Inc()
}

// RecordSpeculateGroup records whether a speculate group's vote picked a
// verified candidate (the common case) or had to fall back to the full,
// unverified pool per §4.5.
func (m *Metrics) RecordSpeculateGroup(verifiedWinner bool) {
	label := "false"
	if verifiedWinner {
		label = "true"
	}
	m.SpeculateGroupsTotal.WithLabelValues(label).Inc()
}

// RecordHTTPRequest records a control-API request for the access-log
// counterpart exposed on /metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
