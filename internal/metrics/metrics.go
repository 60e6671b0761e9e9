package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "caredocs"

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhook_requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconcileOutcomes counts how verified webhook events were folded into the ledger.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "reconcile_outcomes_total",
		Help:      "Verified payment events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// ResyncTotal counts entitlements refreshed by the periodic resync.
	ResyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "resync_total",
		Help:      "Entitlements checked by the periodic resync by result.",
	}, []string{"result"})

	// AccessDecisions counts access evaluations by endpoint and reason.
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "access",
		Name:      "decisions_total",
		Help:      "Access decisions by endpoint and reason (\"allowed\" when granted).",
	}, []string{"endpoint", "reason"})

	// AnonymousUsageTotal counts anonymous usage attempts by result.
	AnonymousUsageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "anonymous_total",
		Help:      "Anonymous usage attempts by result (allowed, limited, error).",
	}, []string{"result"})
)
