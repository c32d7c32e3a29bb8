package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment core.
type Metrics struct {
	// Submission metrics
	SubmissionsTotal  *prometheus.CounterVec
	SubmitDuration    *prometheus.HistogramVec
	DuplicateSubmits  prometheus.Counter
	InsufficientFunds prometheus.Counter

	// Ledger metrics
	PendingAttempts prometheus.Gauge
	LedgerDegraded  prometheus.Gauge

	// Watcher metrics
	ReconcilesTotal    *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	ActiveWatchers     prometheus.Gauge
	PushHintsTotal     prometheus.Counter

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payd_submissions_total",
				Help: "Total payment submissions by disposition",
			},
			[]string{"outcome"},
		),
		SubmitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payd_submit_duration_seconds",
				Help:    "Time from submission to disposition (success, pending handoff, or failure)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		),
		DuplicateSubmits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payd_duplicate_submits_total",
				Help: "Submissions coalesced onto an already in-flight idempotency key",
			},
		),
		InsufficientFunds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payd_insufficient_funds_total",
				Help: "Submissions rejected by the balance precheck",
			},
		),

		PendingAttempts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payd_pending_attempts",
				Help: "Attempts currently awaiting a disposition",
			},
		),
		LedgerDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payd_ledger_degraded",
				Help: "1 when the ledger is running on its in-memory shadow",
			},
		),

		ReconcilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payd_reconciles_total",
				Help: "Reconciliation polls by outcome",
			},
			[]string{"outcome"},
		),
		SettlementDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payd_settlement_duration_seconds",
				Help:    "Time from submission to confirmed settlement for watched attempts",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
			},
		),
		ActiveWatchers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payd_active_watchers",
				Help: "Settlement watcher goroutines currently running",
			},
		),
		PushHintsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payd_push_hints_total",
				Help: "Settlement hints received from the push feed",
			},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payd_webhooks_total",
				Help: "Webhook delivery attempts by status",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payd_webhook_retries_total",
				Help: "Webhook delivery retries",
			},
		),
	}
}

// ObserveSubmit records one submission disposition with its latency.
func (m *Metrics) ObserveSubmit(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
	m.SubmitDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveReconcile records one reconciliation poll outcome.
func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcilesTotal.WithLabelValues(outcome).Inc()
}
