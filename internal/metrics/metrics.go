// Package metrics exposes Prometheus instrumentation for the registry client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconciliation outcomes
const (
	OutcomeReady     = "ready"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
	OutcomeCoalesced = "coalesced"
)

// Guard decisions
const (
	DecisionAllowed  = "allowed"
	DecisionNotOwned = "not_owned"
	DecisionStale    = "stale"
	DecisionError    = "error"
)

type Metrics struct {
	ledgerReads        *prometheus.CounterVec
	ledgerReadDuration *prometheus.HistogramVec
	reconciliations    *prometheus.CounterVec
	reconcileDuration  prometheus.Histogram
	guardDecisions     *prometheus.CounterVec
	writes             *prometheus.CounterVec
	breakerOpen        *prometheus.GaugeVec
	budgetWaits        *prometheus.CounterVec
	budgetWaitDuration *prometheus.HistogramVec
	budgetUtilization  prometheus.Gauge
	budgetAvailable    *prometheus.GaugeVec
	methodUsage        *prometheus.GaugeVec
}

// New builds the collectors and registers them on reg. A nil registerer
// yields unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_ledger_reads_total",
			Help: "Contract view calls by method and outcome.",
		}, []string{"method", "outcome"}),
		ledgerReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_ledger_read_seconds",
			Help:    "Latency of contract view calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_reconciliations_total",
			Help: "Reconciliation runs by outcome.",
		}, []string{"outcome"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_reconcile_seconds",
			Help:    "Duration of completed reconciliation runs.",
			Buckets: prometheus.DefBuckets,
		}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_ownership_guard_decisions_total",
			Help: "Ownership guard decisions by result.",
		}, []string{"decision"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_writes_total",
			Help: "Submitted contract writes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_rpc_breaker_open",
			Help: "1 when the circuit breaker for an RPC endpoint is not closed.",
		}, []string{"endpoint"}),
		budgetWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_rpc_budget_waits_total",
			Help: "RPC calls that had to wait for compute budget, by priority and result.",
		}, []string{"priority", "result"}),
		budgetWaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_rpc_budget_wait_seconds",
			Help:    "Time spent waiting for compute budget.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"priority"}),
		budgetUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_rpc_budget_utilization_percent",
			Help: "Share of the total RPC compute budget used in the current window.",
		}),
		budgetAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_rpc_budget_available_cu",
			Help: "Compute units left in the current window, by priority pool.",
		}, []string{"priority"}),
		methodUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_rpc_method_cu",
			Help: "Compute units charged in the current window, by RPC method.",
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ledgerReads,
			m.ledgerReadDuration,
			m.reconciliations,
			m.reconcileDuration,
			m.guardDecisions,
			m.writes,
			m.breakerOpen,
			m.budgetWaits,
			m.budgetWaitDuration,
			m.budgetUtilization,
			m.budgetAvailable,
			m.methodUsage,
		)
	}
	return m
}

func (m *Metrics) ObserveLedgerRead(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ledgerReads.WithLabelValues(method, outcome).Inc()
	m.ledgerReadDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveReconciliation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
	if outcome == OutcomeReady || outcome == OutcomeFailed {
		m.reconcileDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveGuardDecision(decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveWrite(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
	}
	m.writes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetBreakerOpen(endpoint string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.WithLabelValues(endpoint).Set(value)
}

func (m *Metrics) ObserveBudgetWait(priority, result string, waited time.Duration) {
	if m == nil {
		return
	}
	m.budgetWaits.WithLabelValues(priority, result).Inc()
	m.budgetWaitDuration.WithLabelValues(priority).Observe(waited.Seconds())
}

func (m *Metrics) SetBudgetUtilization(percent float64) {
	if m == nil {
		return
	}
	m.budgetUtilization.Set(percent)
}

func (m *Metrics) SetBudgetAvailable(priority string, cu int) {
	if m == nil {
		return
	}
	m.budgetAvailable.WithLabelValues(priority).Set(float64(cu))
}

func (m *Metrics) SetMethodUsage(method string, cu int) {
	if m == nil {
		return
	}
	m.methodUsage.WithLabelValues(method).Set(float64(cu))
}
