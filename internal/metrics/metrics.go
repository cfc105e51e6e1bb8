// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_ledger_operations_total",
			Help: "Ledger operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_webhook_notifications_total",
			Help: "Inbound provider notifications by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweep_runs_total",
			Help: "Sweep job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	SweepRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweep_rows_total",
			Help: "Rows handled by sweep jobs",
		},
		[]string{"job", "result"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_sweep_duration_seconds",
			Help:    "Duration of sweep job runs",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_gateway_requests_total",
			Help: "Outbound provider calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_gateway_request_duration_seconds",
			Help:    "Latency of outbound provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_alerts_total",
			Help: "Operational alerts by sink",
		},
		[]string{"sink"},
	)
)

// ObserveGateway records one outbound call.
func ObserveGateway(provider, operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GatewayRequests.WithLabelValues(provider, operation, outcome).Inc()
	GatewayDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

// ObserveSweep records one sweep run.
func ObserveSweep(job string, started time.Time, applied, skipped, failed int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SweepRuns.WithLabelValues(job, outcome).Inc()
	SweepDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	SweepRows.WithLabelValues(job, "applied").Add(float64(applied))
	SweepRows.WithLabelValues(job, "skipped").Add(float64(skipped))
	SweepRows.WithLabelValues(job, "failed").Add(float64(failed))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
