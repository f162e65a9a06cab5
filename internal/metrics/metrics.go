package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Reconciliation sweep metrics
	// ============================================
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_sweeps_total",
		Help: "Total number of reconciliation sweeps executed",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anypay_sweep_duration_seconds",
		Help:    "Reconciliation sweep duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	SweepRecordsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_sweep_records_checked_total",
		Help: "Total number of deposit records examined by sweeps",
	})

	SweepRecordErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypay_sweep_record_errors_total",
			Help: "Per-record sweep failures by stage",
		},
		[]string{"stage"},
	)

	SweepSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypay_sweep_skipped_total",
			Help: "Records skipped by the sweep, by reason",
		},
		[]string{"reason"},
	)

	// ============================================
	// Swap status metrics
	// ============================================
	SwapStatusObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypay_swap_status_observed_total",
			Help: "Normalized swap statuses observed from the aggregator",
		},
		[]string{"status"},
	)

	SwapStatusUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_swap_status_unknown_total",
		Help: "Aggregator statuses outside the known status set",
	})

	// ============================================
	// Signing and submission metrics
	// ============================================
	SigningAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_signing_attempts_total",
		Help: "Total number of MPC signing attempts",
	})

	SigningFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_signing_failures_total",
		Help: "Total number of failed MPC signing attempts",
	})

	PaymentsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_payments_executed_total",
		Help: "Payment authorizations produced and durably recorded",
	})

	SubmissionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_submission_failures_total",
		Help: "Artifact submissions rejected by the destination endpoint",
	})

	// ============================================
	// Registration metrics
	// ============================================
	DepositsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_deposits_registered_total",
		Help: "Deposit records created by the registrar",
	})

	QuoteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_quote_failures_total",
		Help: "Aggregator quote requests that failed or carried no address",
	})

	// ============================================
	// Refund metrics
	// ============================================
	RefundsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_refunds_initiated_total",
		Help: "Reverse swaps initiated to return stranded USDC",
	})

	RefundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypay_refund_failures_total",
		Help: "Refund attempts that failed to quote or fund the reverse swap",
	})

	// ============================================
	// Event publishing metrics
	// ============================================
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypay_events_published_total",
			Help: "Lifecycle events published to NATS",
		},
		[]string{"subject"},
	)

	EventsPublishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anypay_events_publish_failed_total",
			Help: "Lifecycle events that failed to publish",
		},
		[]string{"subject"},
	)
)
