// Package metrics exposes Prometheus instruments for the simulation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Simulation metrics
	PeriodsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_periods_total",
			Help: "Total number of rebalancing periods executed",
		},
		[]string{"strategy"},
	)

	PeriodDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundsim_period_duration_seconds",
			Help:    "Duration of one rebalancing period (fetch, decide, apply, persist)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"strategy"},
	)

	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_trades_total",
			Help: "Total number of trades emitted by rebalancing policies",
		},
		[]string{"strategy", "action"},
	)

	SkippedTradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_skipped_trades_total",
			Help: "Trades computed but not emitted",
		},
		[]string{"strategy", "reason"}, // insufficient_funds, insufficient_holdings, budget_exhausted
	)

	OptimizerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_optimizer_fallbacks_total",
			Help: "Optimizer runs that returned equal weights instead of a solved vector",
		},
		[]string{"reason"}, // not_converged, solver_error, infeasible_cap
	)

	PersistenceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundsim_persistence_failures_total",
			Help: "Periods aborted because the atomic position/ledger write failed",
		},
	)

	// Analysis metrics
	AnalysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_analysis_runs_total",
			Help: "Portfolio analysis runs by outcome",
		},
		[]string{"status"}, // success, failed
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundsim_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
)
