package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "autodm_dispatch_duration_sec",
	Help:    "Total duration of engagement event dispatch",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
}, []string{"kind"})

var DispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_dispatch_total",
	Help: "Number of engagement events dispatched, by outcome",
}, []string{"kind", "outcome"})

var LedgerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_ledger_decisions_total",
	Help: "Usage ledger admissions by tier and decision",
}, []string{"tier", "decision"})

var LedgerCallsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_ledger_calls_admitted_total",
	Help: "Metered calls admitted by the usage ledger",
}, []string{"tier"})

var OutboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "autodm_outbound_calls_total",
	Help: "Outbound platform calls by operation and result",
}, []string{"op", "result"})

var WindowsPruned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "autodm_usage_windows_pruned_total",
	Help: "Usage windows deleted by the retention job",
})
