package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tipbot",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Chat commands handled, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	ledgerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tipbot",
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "Ledger calls by coin, operation and outcome",
		},
		[]string{"coin", "op", "outcome"},
	)

	ledgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tipbot",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Ledger call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"coin", "op"},
	)

	pendingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tipbot",
			Subsystem: "pending",
			Name:      "transitions_total",
			Help:      "Staged transaction lifecycle transitions",
		},
		[]string{"state"}, // staged, consumed, expired, conflict
	)

	recipientFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tipbot",
			Subsystem: "engine",
			Name:      "recipient_failures_total",
			Help:      "Recipients that could not be resolved, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		commandsTotal,
		ledgerCallsTotal,
		ledgerCallDuration,
		pendingTransitions,
		recipientFailures,
	)
}

func Command(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// LedgerCall records one ledger round trip started at start.
func LedgerCall(coin, op, outcome string, start time.Time) {
	ledgerCallsTotal.WithLabelValues(coin, op, outcome).Inc()
	ledgerCallDuration.WithLabelValues(coin, op).Observe(time.Since(start).Seconds())
}

func Pending(state string) {
	pendingTransitions.WithLabelValues(state).Inc()
}

func RecipientFailure(reason string) {
	recipientFailures.WithLabelValues(reason).Inc()
}
