// Copyright 2025 James Ross
package policy

import (
	"testing"
	"time"

	"github.com/fleetctl/workload-controller/internal/domain"
)

func noopCtx(d domain.Decision) (EvalContext, error) { return EvalContext{}, nil }

func TestRegisterPolicyRejectsEmptyRules(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	if _, err := e.RegisterPolicy(domain.Policy{Name: "empty"}); err == nil {
		t.Fatal("expected error registering a policy with no rules")
	}
}

func TestRegisterPolicyAssignsIDAndEnables(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	id, err := e.RegisterPolicy(domain.Policy{Name: "p", Rules: []domain.PolicyRule{{ID: "r1", Kind: domain.RuleKindQuota}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated policy id")
	}
}

func TestEvaluateEnforceModeRejectsOnViolation(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	e.RegisterPolicy(domain.Policy{Name: "quota", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	plan := domain.ActionPlan{ID: "plan1", Decisions: []domain.Decision{
		{ID: "d1", Verb: domain.VerbScale, Target: domain.DecisionTarget{WorkloadID: "w1"}, Params: map[string]interface{}{"scope_replicas": 5.0}},
	}}
	result, err := e.Evaluate(plan, domain.PolicyModeEnforce, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Approved {
		t.Fatal("expected plan to be rejected under enforce mode")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
}

func TestEvaluateShadowModeAlwaysApprovesButRecordsViolations(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	e.RegisterPolicy(domain.Policy{Name: "quota", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	plan := domain.ActionPlan{ID: "plan1", Decisions: []domain.Decision{
		{ID: "d1", Verb: domain.VerbScale, Target: domain.DecisionTarget{WorkloadID: "w1"}, Params: map[string]interface{}{"scope_replicas": 5.0}},
	}}
	result, err := e.Evaluate(plan, domain.PolicyModeShadow, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Approved || !result.Shadow {
		t.Fatalf("expected shadow mode to approve and flag shadow, got %+v", result)
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected violation still recorded in shadow mode, got %d", len(result.Violations))
	}
}

func TestEvaluateDryRunAlwaysApproves(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	e.RegisterPolicy(domain.Policy{Name: "quota", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	plan := domain.ActionPlan{ID: "plan1", Decisions: []domain.Decision{
		{ID: "d1", Verb: domain.VerbScale, Target: domain.DecisionTarget{WorkloadID: "w1"}, Params: map[string]interface{}{"scope_replicas": 5.0}},
	}}
	result, _ := e.Evaluate(plan, domain.PolicyModeDryRun, time.Now())
	if !result.Approved {
		t.Fatal("expected dry run mode to always approve")
	}
}

func TestEvaluateSelectorScopesRuleToMatchingWorkload(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	e.RegisterPolicy(domain.Policy{Name: "scoped", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Selector: "$.workload_id==gpu-fleet", Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	plan := domain.ActionPlan{ID: "plan1", Decisions: []domain.Decision{
		{ID: "d1", Verb: domain.VerbScale, Target: domain.DecisionTarget{WorkloadID: "other"}, Params: map[string]interface{}{"scope_replicas": 5.0}},
	}}
	result, _ := e.Evaluate(plan, domain.PolicyModeEnforce, time.Now())
	if !result.Approved {
		t.Fatal("expected selector to exclude non-matching workload from the rule")
	}

	plan.Decisions[0].Target.WorkloadID = "gpu-fleet"
	result, _ = e.Evaluate(plan, domain.PolicyModeEnforce, time.Now())
	if result.Approved {
		t.Fatal("expected selector to include the matching workload in the rule")
	}
}

func TestEvaluateDisabledPolicyNeverFires(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	id, _ := e.RegisterPolicy(domain.Policy{Name: "quota", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	if err := e.DisablePolicy(id); err != nil {
		t.Fatalf("unexpected error disabling policy: %v", err)
	}
	plan := domain.ActionPlan{ID: "plan1", Decisions: []domain.Decision{
		{ID: "d1", Verb: domain.VerbScale, Target: domain.DecisionTarget{WorkloadID: "w1"}, Params: map[string]interface{}{"scope_replicas": 5.0}},
	}}
	result, _ := e.Evaluate(plan, domain.PolicyModeEnforce, time.Now())
	if !result.Approved {
		t.Fatal("expected disabled policy to never block a plan")
	}
}

func TestUpdatePolicyRecordsAuditEntry(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	id, _ := e.RegisterPolicy(domain.Policy{Name: "quota", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 1.0}},
	}})
	updated := domain.Policy{ID: id, Name: "quota-v2", Rules: []domain.PolicyRule{
		{ID: "r1", Kind: domain.RuleKindQuota, Params: map[string]interface{}{"max_replicas": 2.0}},
	}, Enabled: true}
	if _, err := e.UpdatePolicy(updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trail := e.AuditTrail()
	if len(trail) != 1 {
		t.Fatalf("expected 1 audit entry after update, got %d", len(trail))
	}
	if trail[0].Before.Name != "quota" || trail[0].After.Name != "quota-v2" {
		t.Fatalf("expected audit entry to capture before/after names, got %+v", trail[0])
	}
}

func TestUpdatePolicyUnknownIDFails(t *testing.T) {
	e := NewEngine(PriceTable{}, nil, noopCtx)
	if _, err := e.UpdatePolicy(domain.Policy{ID: "missing", Rules: []domain.PolicyRule{{ID: "r1"}}}); err == nil {
		t.Fatal("expected error updating an unknown policy id")
	}
}
