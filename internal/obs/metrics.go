// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PlansSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plans_submitted_total",
		Help: "Total number of action plans submitted",
	})
	PlansRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plans_rejected_total",
		Help: "Total number of action plans rejected by policy",
	})
	PlansCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plans_completed_total",
		Help: "Total number of action plans that completed successfully",
	})
	PlansFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plans_failed_total",
		Help: "Total number of action plans that failed",
	})
	DecisionsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decisions_dispatched_total",
		Help: "Total number of decisions dispatched by verb",
	}, []string{"verb"})
	PolicyEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policy_evaluation_duration_seconds",
		Help:    "Histogram of policy evaluation durations",
		Buckets: prometheus.DefBuckets,
	})
	PolicyViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policy_violations_total",
		Help: "Total number of policy rule violations by rule type and action",
	}, []string{"rule_type", "action"})
	CanaryPhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canary_phase",
		Help: "Current canary phase as an enum gauge, one series per active canary",
	}, []string{"canary_id", "phase"})
	CanaryHealthScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canary_health_score",
		Help: "Most recent health score sampled for a canary rollout",
	}, []string{"canary_id"})
	RollbacksTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollbacks_triggered_total",
		Help: "Total number of automatic rollbacks triggered",
	})
	RateLimiterRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limiter_rejections_total",
		Help: "Total number of rate-limited actions by scope key",
	}, []string{"scope"})
	ClusterDriverFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_driver_faults_total",
		Help: "Total number of typed faults surfaced by the cluster driver",
	}, []string{"code"})
	ClusterDriverRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cluster_driver_retries_total",
		Help: "Total number of transient-fault retries performed by the cluster driver",
	})
)

func init() {
	prometheus.MustRegister(
		PlansSubmitted, PlansRejected, PlansCompleted, PlansFailed, DecisionsDispatched,
		PolicyEvaluationDuration, PolicyViolations, CanaryPhase, CanaryHealthScore,
		RollbacksTriggered, RateLimiterRejections, ClusterDriverFaults, ClusterDriverRetries,
	)
}
