// Copyright 2025 James Ross
package policy

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetctl/workload-controller/internal/domain"
)

// PlanResult is the Policy Engine's verdict for one ActionPlan.
type PlanResult struct {
	Approved    bool              `json:"approved"`
	Violations  []Violation       `json:"violations"`
	DurationMs  int64             `json:"duration_ms"`
	Mode        domain.PolicyMode `json:"mode"`
	Shadow      bool              `json:"shadow"`
	PerDecision map[string][]Violation `json:"per_decision"`
}

// ContextFunc builds the EvalContext a rule needs for one decision; the
// engine is otherwise pure, so all I/O (observed uptime, SLO metrics,
// quota aggregates) is injected through this seam.
type ContextFunc func(d domain.Decision) (EvalContext, error)

// Engine evaluates plans against a copy-on-write policy snapshot: every
// Evaluate call is given the current []domain.Policy by value-semantics
// slice, so a concurrent UpdatePolicy cannot mutate an in-flight
// evaluation, matching §5's "Policy set is copy-on-write" requirement.
type Engine struct {
	mu         sync.RWMutex
	policies   []domain.Policy
	priceTable PriceTable
	limiter    rateLimitProbe
	buildCtx   ContextFunc
	audit      []AuditEntry
}

// AuditEntry records a policy mutation's before/after diff, grounded on
// the teacher's policy-simulator PolicyChange/AuditEntry pattern.
type AuditEntry struct {
	ID        string
	PolicyID  string
	At        time.Time
	Before    *domain.Policy
	After     *domain.Policy
}

func NewEngine(priceTable PriceTable, limiter rateLimitProbe, buildCtx ContextFunc) *Engine {
	return &Engine{priceTable: priceTable, limiter: limiter, buildCtx: buildCtx}
}

func (e *Engine) snapshot() []domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// RegisterPolicy / UpdatePolicy / DisablePolicy implement the §6 external
// operations. UpdatePolicy and DisablePolicy record an audit diff; all three
// change the engine's policy slice under the write lock, and Evaluate works
// on the copy that snapshot() takes.
func (e *Engine) RegisterPolicy(p domain.Policy) (string, error) {
	if p.ID == "" {
		p.ID = "policy_" + uuid.New().String()
	}
	if len(p.Rules) == 0 {
		return "", ErrInvalidPolicy
	}
	p.Enabled = true
	p.UpdatedAt = time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
	return p.ID, nil
}

func (e *Engine) UpdatePolicy(p domain.Policy) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.policies {
		if existing.ID == p.ID {
			before := existing
			p.UpdatedAt = time.Now()
			e.policies[i] = p
			e.audit = append(e.audit, AuditEntry{ID: uuid.New().String(), PolicyID: p.ID, At: time.Now(), Before: &before, After: &p})
			return p.ID, nil
		}
	}
	return "", ErrInvalidPolicy
}

func (e *Engine) DisablePolicy(policyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.policies {
		if existing.ID == policyID {
			before := existing
			e.policies[i].Enabled = false
			e.policies[i].UpdatedAt = time.Now()
			after := e.policies[i]
			e.audit = append(e.audit, AuditEntry{ID: uuid.New().String(), PolicyID: policyID, At: time.Now(), Before: &before, After: &after})
			return nil
		}
	}
	return ErrInvalidPolicy
}

// AuditTrail returns the recorded policy change history for this process's
// lifetime (not persisted — persistence is out of scope for the core).
func (e *Engine) AuditTrail() []AuditEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AuditEntry, len(e.audit))
	copy(out, e.audit)
	return out
}

func orderPolicies(policies []domain.Policy) []domain.Policy {
	enabled := make([]domain.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		maxPrioI, maxPrioJ := maxPriority(enabled[i]), maxPriority(enabled[j])
		if maxPrioI != maxPrioJ {
			return maxPrioI > maxPrioJ
		}
		return enabled[i].Name < enabled[j].Name
	})
	return enabled
}

func maxPriority(p domain.Policy) int {
	max := 0
	for _, r := range p.Rules {
		if r.Priority > max {
			max = r.Priority
		}
	}
	return max
}

// Evaluate evaluates plan against the current policy snapshot in mode.
// It never short-circuits on the first violation; it collects all of
// them and only then aggregates an approval decision.
func (e *Engine) Evaluate(plan domain.ActionPlan, mode domain.PolicyMode, at time.Time) (PlanResult, error) {
	start := time.Now()
	snapshot := orderPolicies(e.snapshot())

	result := PlanResult{Mode: mode, PerDecision: map[string][]Violation{}}
	anyReject := false

	for _, d := range plan.Decisions {
		ctx := EvalContext{}
		if e.buildCtx != nil {
			built, err := e.buildCtx(d)
			if err != nil {
				result.Violations = append(result.Violations, Violation{RuleType: "evaluation_timeout", Action: ActionWarn, Message: err.Error()})
				continue
			}
			ctx = built
		}
		var decisionViolations []Violation
		for _, p := range snapshot {
			for _, rule := range p.Rules {
				sel := rule.Selector
				if sel == "" {
					sel = "*"
				}
				ok, err := matches(sel, d.Target)
				if err != nil || !ok {
					continue
				}
				if v := evaluateRule(p.ID, rule, d, ctx, e.priceTable, e.limiter, at); v != nil {
					decisionViolations = append(decisionViolations, *v)
					if v.Action == ActionReject {
						anyReject = true
					}
				}
			}
		}
		decisionViolations = tieBreak(decisionViolations)
		result.Violations = append(result.Violations, decisionViolations...)
		result.PerDecision[d.ID] = decisionViolations
	}

	switch mode {
	case domain.PolicyModeDryRun:
		result.Approved = true
	case domain.PolicyModeShadow:
		result.Approved = true
		result.Shadow = true
	default:
		result.Approved = !anyReject
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// tieBreak resolves same-decision rules of equal priority by action
// severity: reject > warn > log. It does not drop any violation; it only
// orders them so callers that inspect [0] see the most severe first.
func tieBreak(vs []Violation) []Violation {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].Action.rank() > vs[j].Action.rank()
	})
	return vs
}
