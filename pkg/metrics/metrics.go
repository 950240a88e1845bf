package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger call outcomes, labelled by operation and accepted/rejected.
	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_calls_total",
			Help: "Total number of ledger calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Reconciliation agent activity.
	AgentRoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_rounds_total",
			Help: "Total number of reconciliation rounds executed",
		},
	)

	AgentSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_submissions_total",
			Help: "Ledger submissions made by the reconciliation agent",
		},
		[]string{"call", "outcome"},
	)

	AgentExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_external_calls_total",
			Help: "Hardware and gateway calls made by the reconciliation agent",
		},
		[]string{"target", "outcome"},
	)

	PendingPaymentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_payments",
			Help: "Current length of the pending settlement queue",
		},
	)

	WebsocketSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_feed_subscribers",
			Help: "Current number of websocket event feed subscribers",
		},
	)
)

// RecordLedgerCall tallies one call outcome.
func RecordLedgerCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	LedgerCallsTotal.WithLabelValues(operation, outcome).Inc()
}
