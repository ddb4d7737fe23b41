// Package metrics exposes Prometheus collectors for the policy gate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/policygate/capital/internal/engine"
)

var (
	// DecisionsTotal counts decisions by verdict.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygate_decisions_total",
		Help: "Governance decisions by verdict.",
	}, []string{"verdict"})

	// RuleHitsTotal counts fired rules by rule ID.
	RuleHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygate_rule_hits_total",
		Help: "Rule violations by rule ID.",
	}, []string{"rule_id"})

	// OrdersSubmittedTotal counts broker submissions.
	OrdersSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policygate_orders_submitted_total",
		Help: "Orders submitted to the broker.",
	})

	// OrdersFilledTotal counts applied fills.
	OrdersFilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policygate_orders_filled_total",
		Help: "Fills applied to the portfolio.",
	})

	// EvalSeconds observes evaluation latency.
	EvalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "policygate_eval_seconds",
		Help:    "Policy evaluation latency in seconds.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	// KillSwitchActive is 1 once the kill switch has latched.
	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policygate_kill_switch_active",
		Help: "Whether the kill switch is latched (monotone within a run).",
	})
)

// ObserveDecision records a decision's verdict, rule hits, and latency.
func ObserveDecision(d engine.Decision) {
	DecisionsTotal.WithLabelValues(string(d.Verdict)).Inc()
	for _, v := range d.Violations {
		RuleHitsTotal.WithLabelValues(v.RuleID).Inc()
	}
	EvalSeconds.Observe(d.EvalMs / 1000)
}
