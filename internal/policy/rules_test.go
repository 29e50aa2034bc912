// Copyright 2025 James Ross
package policy

import (
	"testing"
	"time"

	"github.com/fleetctl/workload-controller/internal/domain"
)

func decision(verb domain.DecisionVerb) domain.Decision {
	return domain.Decision{ID: "d1", Verb: verb, Target: domain.DecisionTarget{WorkloadID: "w1", ClusterID: "c1"}}
}

func TestEvaluateRuleCostCeilingViolation(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindCostCeiling, Params: map[string]interface{}{"max_usd_per_hour": 10.0}}
	pt := PriceTable{CPUCoreHour: 1.0}
	ctx := EvalContext{Shape: ResourceShape{Replicas: 20, CPUCores: 1}}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, pt, nil, time.Now())
	if v == nil {
		t.Fatal("expected cost ceiling violation")
	}
	if v.Action != ActionReject {
		t.Fatalf("expected default action reject, got %v", v.Action)
	}
}

func TestEvaluateRuleCostCeilingWithinBudgetNoViolation(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindCostCeiling, Params: map[string]interface{}{"max_usd_per_hour": 100.0}}
	pt := PriceTable{CPUCoreHour: 1.0}
	ctx := EvalContext{Shape: ResourceShape{Replicas: 2, CPUCores: 1}}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, pt, nil, time.Now()); v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}

func TestEvaluateRuleCostCeilingEmptyPriceTableNeverViolates(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindCostCeiling, Params: map[string]interface{}{"max_usd_per_hour": 0.01}}
	ctx := EvalContext{Shape: ResourceShape{Replicas: 1000, CPUCores: 1000}}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now()); v != nil {
		t.Fatalf("expected empty price table to never violate, got %v", v)
	}
}

func TestEvaluateRuleQuotaReplicas(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 5.0}}
	ctx := EvalContext{ScopeReplicas: 6}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now())
	if v == nil || v.RuleType != domain.RuleKindQuota {
		t.Fatalf("expected quota violation, got %v", v)
	}
}

func TestEvaluateRuleQuotaWithinLimitNoViolation(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 5.0}}
	ctx := EvalContext{ScopeReplicas: 5}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now()); v != nil {
		t.Fatalf("expected no violation at exactly the quota, got %v", v)
	}
}

func TestEvaluateRuleSLAIgnoresNonDisruptiveVerbs(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindSLA, Params: map[string]interface{}{"min_uptime": 0.99}}
	ctx := EvalContext{ObservedUptime7d: 0.5}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now()); v != nil {
		t.Fatalf("expected sla rule to skip non-disruptive verb, got %v", v)
	}
}

func TestEvaluateRuleSLAViolatesOnDisruptiveVerb(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindSLA, Params: map[string]interface{}{"min_uptime": 0.99}}
	ctx := EvalContext{ObservedUptime7d: 0.5}
	v := evaluateRule("p1", rule, decision(domain.VerbRollback), ctx, PriceTable{}, nil, time.Now())
	if v == nil {
		t.Fatal("expected sla violation for rollback below uptime floor")
	}
}

func TestEvaluateRuleSLOIgnoresScaleUp(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindSLO, Params: map[string]interface{}{"max_latency_ms_p95": 100.0}}
	ctx := EvalContext{LatencyP95Ms: 500, IsScaleDown: false}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now()); v != nil {
		t.Fatalf("expected slo rule to only fire on scale down, got %v", v)
	}
}

func TestEvaluateRuleSLOViolatesOnScaleDownLatency(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindSLO, Params: map[string]interface{}{"max_latency_ms_p95": 100.0}}
	ctx := EvalContext{LatencyP95Ms: 500, IsScaleDown: true}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now())
	if v == nil {
		t.Fatal("expected slo violation on scale down above latency ceiling")
	}
}

func TestEvaluateRuleSLOViolatesOnSuccessRate(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindSLO, Params: map[string]interface{}{"min_success_rate": 0.99}}
	ctx := EvalContext{SuccessRate: 0.5, IsScaleDown: true}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), ctx, PriceTable{}, nil, time.Now())
	if v == nil {
		t.Fatal("expected slo violation on success rate below floor")
	}
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(key string, limit int, interval time.Duration) bool { return f.allow }

func TestEvaluateRuleRateLimitDeniesWhenLimiterDenies(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindRateLimit, Params: map[string]interface{}{"scope": "workload", "max_actions": 1.0}}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), EvalContext{}, PriceTable{}, fakeLimiter{allow: false}, time.Now())
	if v == nil {
		t.Fatal("expected rate limit violation when limiter denies")
	}
}

func TestEvaluateRuleRateLimitAllowsWhenLimiterAllows(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindRateLimit, Params: map[string]interface{}{"scope": "workload", "max_actions": 1.0}}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), EvalContext{}, PriceTable{}, fakeLimiter{allow: true}, time.Now()); v != nil {
		t.Fatalf("expected no violation when limiter allows, got %v", v)
	}
}

func TestEvaluateRuleRateLimitNilLimiterNeverViolates(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindRateLimit, Params: map[string]interface{}{"scope": "workload", "max_actions": 1.0}}
	if v := evaluateRule("p1", rule, decision(domain.VerbScale), EvalContext{}, PriceTable{}, nil, time.Now()); v != nil {
		t.Fatalf("expected no violation with no limiter wired, got %v", v)
	}
}

func TestEvaluateRuleChangeFreezeInvalidWindowWarns(t *testing.T) {
	rule := domain.PolicyRule{ID: "r1", Kind: domain.RuleKindChangeFreeze, Params: map[string]interface{}{"tz": "Not/AZone"}}
	v := evaluateRule("p1", rule, decision(domain.VerbScale), EvalContext{}, PriceTable{}, nil, time.Now())
	if v == nil || v.Action != ActionWarn {
		t.Fatalf("expected a warn violation on an undecodable window, got %v", v)
	}
}

func TestTieBreakOrdersRejectAboveWarnAboveLog(t *testing.T) {
	vs := []Violation{
		{RuleID: "a", Action: ActionLog},
		{RuleID: "b", Action: ActionReject},
		{RuleID: "c", Action: ActionWarn},
	}
	ordered := tieBreak(vs)
	if ordered[0].Action != ActionReject || ordered[1].Action != ActionWarn || ordered[2].Action != ActionLog {
		t.Fatalf("expected reject, warn, log order, got %v, %v, %v", ordered[0].Action, ordered[1].Action, ordered[2].Action)
	}
}

func TestTieBreakStableAmongEqualActions(t *testing.T) {
	vs := []Violation{
		{RuleID: "first", Action: ActionWarn},
		{RuleID: "second", Action: ActionWarn},
	}
	ordered := tieBreak(vs)
	if ordered[0].RuleID != "first" || ordered[1].RuleID != "second" {
		t.Fatalf("expected stable order preserved among equal-severity violations, got %v", ordered)
	}
}
