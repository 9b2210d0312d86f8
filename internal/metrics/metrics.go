// Package metrics holds the process-wide Prometheus collectors for calls and settlement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveCalls is the number of coordinators currently in the Connected state.
var ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "vidcall",
	Subsystem: "calls",
	Name:      "active",
	Help:      "Calls currently connected on this instance.",
})

// CallsEnded counts calls reaching Ending, by trigger.
var CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vidcall",
	Subsystem: "calls",
	Name:      "ended_total",
	Help:      "Calls ended, by trigger (hangup, balance_exhausted, remote_ended).",
}, []string{"trigger"})

// CallRequestsDiscarded counts inbound requests dropped before ringing, by reason.
var CallRequestsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vidcall",
	Subsystem: "calls",
	Name:      "requests_discarded_total",
	Help:      "Inbound call requests dropped before ringing.",
}, []string{"reason"})

// Settlements counts settlement attempts by outcome.
var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vidcall",
	Subsystem: "settlement",
	Name:      "attempts_total",
	Help:      "Settlement attempts by outcome (settled, duplicate, insufficient_funds, account_not_found, transfer_failed).",
}, []string{"outcome"})

// SettledCents sums settled customer debits in cents.
var SettledCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "vidcall",
	Subsystem: "settlement",
	Name:      "settled_cents_total",
	Help:      "Total customer debits settled, in cents.",
})

// CallDuration observes billed call duration in seconds.
var CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "vidcall",
	Subsystem: "calls",
	Name:      "duration_seconds",
	Help:      "Connected call duration.",
	Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
})
