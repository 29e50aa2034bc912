// Copyright 2025 James Ross
package policy

import (
	"fmt"
	"time"

	"github.com/fleetctl/workload-controller/internal/domain"
)

// ViolationAction is the action a rule prescribes on violation; ties
// between equal-priority rules break reject > warn > log.
type ViolationAction string

const (
	ActionReject ViolationAction = "reject"
	ActionWarn   ViolationAction = "warn"
	ActionLog    ViolationAction = "log"
)

func (a ViolationAction) rank() int {
	switch a {
	case ActionReject:
		return 2
	case ActionWarn:
		return 1
	default:
		return 0
	}
}

// Violation is one rule firing against one decision.
type Violation struct {
	PolicyID string          `json:"policy_id"`
	RuleID   string          `json:"rule_id"`
	RuleType domain.RuleKind `json:"rule_type"`
	Action   ViolationAction `json:"action"`
	Message  string          `json:"message"`
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func ruleAction(rule domain.PolicyRule) ViolationAction {
	if a, ok := rule.Params["action"].(string); ok {
		return ViolationAction(a)
	}
	return ActionReject
}

// evaluateRule dispatches a single rule against one decision and its
// evaluation context; it never returns more than one violation.
func evaluateRule(policyID string, rule domain.PolicyRule, d domain.Decision, ctx EvalContext, pt PriceTable, limiter rateLimitProbe, at time.Time) *Violation {
	action := ruleAction(rule)
	switch rule.Kind {
	case domain.RuleKindCostCeiling:
		ceiling := paramFloat(rule.Params, "max_usd_per_hour", -1)
		if ceiling < 0 {
			return nil
		}
		cost := pt.HourlyCost(ctx.Shape.Replicas, ctx.Shape.CPUCores, ctx.Shape.MemGB, ctx.Shape.GPUCount, ctx.Shape.GPUSKU)
		if cost > ceiling {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("estimated cost %.2f exceeds ceiling %.2f", cost, ceiling)}
		}
		return nil

	case domain.RuleKindQuota:
		if max := paramFloat(rule.Params, "max_replicas", -1); max >= 0 && float64(ctx.ScopeReplicas) > max {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("replicas %d exceeds quota %.0f", ctx.ScopeReplicas, max)}
		}
		if max := paramFloat(rule.Params, "max_cpu_cores", -1); max >= 0 && ctx.ScopeCPUCores > max {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("cpu cores %.2f exceeds quota %.2f", ctx.ScopeCPUCores, max)}
		}
		if max := paramFloat(rule.Params, "max_memory_bytes", -1); max >= 0 && float64(ctx.ScopeMemoryBytes) > max {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: "memory bytes exceeds quota"}
		}
		if max := paramFloat(rule.Params, "max_gpu_count", -1); max >= 0 && float64(ctx.ScopeGPUCount) > max {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("gpu count %d exceeds quota %.0f", ctx.ScopeGPUCount, max)}
		}
		return nil

	case domain.RuleKindSLA:
		if !isDisruptive(d.Verb) {
			return nil
		}
		minUptime := paramFloat(rule.Params, "min_uptime", -1)
		if minUptime >= 0 && ctx.ObservedUptime7d < minUptime {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("7d uptime %.4f below sla minimum %.4f", ctx.ObservedUptime7d, minUptime)}
		}
		return nil

	case domain.RuleKindSLO:
		if !ctx.IsScaleDown {
			return nil
		}
		if maxLatency := paramFloat(rule.Params, "max_latency_ms_p95", -1); maxLatency >= 0 && ctx.LatencyP95Ms > maxLatency {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("p95 latency %.1fms exceeds slo %.1fms", ctx.LatencyP95Ms, maxLatency)}
		}
		if minSuccess := paramFloat(rule.Params, "min_success_rate", -1); minSuccess >= 0 && ctx.SuccessRate < minSuccess {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("success rate %.4f below slo %.4f", ctx.SuccessRate, minSuccess)}
		}
		return nil

	case domain.RuleKindRateLimit:
		scopeKind, _ := rule.Params["scope"].(string)
		key := rateScopeKey(scopeKind, d)
		maxActions := int(paramFloat(rule.Params, "max_actions", 0))
		intervalSec := paramFloat(rule.Params, "interval_seconds", 60)
		if limiter != nil && !limiter.Allow(key, maxActions, time.Duration(intervalSec)*time.Second) {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action,
				Message: fmt.Sprintf("rate limit exceeded for scope %s", key)}
		}
		return nil

	case domain.RuleKindChangeFreeze:
		window, err := decodeChangeFreezeWindow(rule.Params)
		if err != nil {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: "evaluation_timeout", Action: ActionWarn, Message: err.Error()}
		}
		in, err := window.InWindow(at)
		if err != nil {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: "evaluation_timeout", Action: ActionWarn, Message: err.Error()}
		}
		source, _ := d.Params["source"].(string)
		if in && !window.Exempt(source) {
			return &Violation{PolicyID: policyID, RuleID: rule.ID, RuleType: rule.Kind, Action: action, Message: "plan submitted during change freeze window"}
		}
		return nil
	}
	return nil
}

func isDisruptive(v domain.DecisionVerb) bool {
	return v == domain.VerbRollback || v == domain.VerbDrain || v == domain.VerbRestart
}

func rateScopeKey(scopeKind string, d domain.Decision) string {
	switch scopeKind {
	case "cluster":
		return "cluster:" + d.Target.ClusterID
	case "namespace":
		return "namespace:" + d.Target.Labels["namespace"]
	case "workload":
		return "workload:" + d.Target.WorkloadID
	default:
		return "global"
	}
}

type rateLimitProbe interface {
	Allow(key string, limit int, interval time.Duration) bool
}

func decodeChangeFreezeWindow(params map[string]interface{}) (ChangeFreezeWindow, error) {
	w := ChangeFreezeWindow{}
	if tz, ok := params["tz"].(string); ok {
		w.TZ = tz
	}
	if days, ok := params["days_of_week"].([]string); ok {
		w.DaysOfWeek = days
	}
	if hours, ok := params["hours"].([]int); ok {
		w.Hours = hours
	}
	if exempt, ok := params["exempt_sources"].([]string); ok {
		w.ExemptSources = exempt
	}
	if start, ok := params["start"].(time.Time); ok {
		w.Start = &start
	}
	if end, ok := params["end"].(time.Time); ok {
		w.End = &end
	}
	return w, nil
}
