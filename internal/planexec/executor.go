// Copyright 2025 James Ross
package planexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetctl/workload-controller/internal/canary"
	"github.com/fleetctl/workload-controller/internal/clusterdriver"
	"github.com/fleetctl/workload-controller/internal/domain"
	"github.com/fleetctl/workload-controller/internal/policy"
)

// EventSink is the narrow event-bus surface this package needs.
type EventSink interface {
	Publish(ctx context.Context, eventType string, payload map[string]interface{})
}

// DecisionSafety is the per-decision safety-gate configuration carried in
// a decision's params under the "safety" key.
type DecisionSafety struct {
	MaxBlastRadiusPercent float64
	RequiresApproval      bool
}

// FleetSizer reports the current fleet size for a decision target, so the
// blast-radius check can compute the affected fraction the way
// worker-fleet-controls' SafetyChecker computes fleet-wide impact.
type FleetSizer interface {
	FleetSize(ctx context.Context, target domain.DecisionTarget) (int, error)
}

// Executor dispatches ActionPlans under policy gating, blast-radius
// checks and approval gates. One Executor worker runs per inflight plan,
// up to maxConcurrentPlans; decisions within a plan run strictly in
// order; plans whose decisions name the same cluster/workload targets are
// serialized by a per-target mutex.
type Executor struct {
	mu            sync.RWMutex
	plans         map[string]*domain.ActionPlan
	results       map[string]policy.PlanResult
	approvals     map[string]bool
	targetMu      map[string]*sync.Mutex
	targetMuGuard sync.Mutex
	sem           chan struct{}

	engine      *policy.Engine
	driver      clusterdriver.Driver
	canaryMgr   *canary.Manager
	fleetSizer  FleetSizer
	events      EventSink
	log         *zap.Logger
	defaultTimeout time.Duration
}

func NewExecutor(engine *policy.Engine, driver clusterdriver.Driver, canaryMgr *canary.Manager, fleetSizer FleetSizer, events EventSink, log *zap.Logger, maxConcurrentPlans int, defaultTimeout time.Duration) *Executor {
	if maxConcurrentPlans <= 0 {
		maxConcurrentPlans = 16
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Executor{
		plans: map[string]*domain.ActionPlan{}, results: map[string]policy.PlanResult{},
		approvals: map[string]bool{}, targetMu: map[string]*sync.Mutex{},
		sem: make(chan struct{}, maxConcurrentPlans),
		engine: engine, driver: driver, canaryMgr: canaryMgr, fleetSizer: fleetSizer,
		events: events, log: log, defaultTimeout: defaultTimeout,
	}
}

// ApproveDecision records an approval for decisionID, satisfying any
// pending approval gate for it.
func (e *Executor) ApproveDecision(decisionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approvals[decisionID] = true
}

func (e *Executor) targetMutex(key string) *sync.Mutex {
	e.targetMuGuard.Lock()
	defer e.targetMuGuard.Unlock()
	m, ok := e.targetMu[key]
	if !ok {
		m = &sync.Mutex{}
		e.targetMu[key] = m
	}
	return m
}

func targetKey(plan domain.ActionPlan) string {
	key := ""
	for _, d := range plan.Decisions {
		key += d.Target.ClusterID + "/" + d.Target.WorkloadID + ";"
	}
	return key
}

// GetPlanStatus returns a plan's current or final PlanResult.
func (e *Executor) GetPlanStatus(planID string) (domain.ActionPlan, policy.PlanResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	plan, ok := e.plans[planID]
	if !ok {
		return domain.ActionPlan{}, policy.PlanResult{}, ErrNotFound
	}
	return *plan, e.results[planID], nil
}

// SubmitActionPlan is the §6 SubmitActionPlan operation: it evaluates
// policy, then dispatches decisions under the concurrency cap and
// per-target serialization, and returns once the plan reaches a terminal
// status. Submitting an already-completed plan id returns its stored
// result unchanged; there is no re-execution.
func (e *Executor) SubmitActionPlan(ctx context.Context, plan domain.ActionPlan, mode domain.PolicyMode) (policy.PlanResult, error) {
	e.mu.RLock()
	if existing, ok := e.plans[plan.ID]; ok && isTerminal(existing.Status) {
		result := e.results[plan.ID]
		e.mu.RUnlock()
		return result, nil
	}
	e.mu.RUnlock()

	if len(plan.Decisions) == 0 {
		return policy.PlanResult{}, ErrInvalidPlan
	}
	plan.Status = domain.PlanStatusPending
	plan.SubmittedAt = time.Now()
	e.mu.Lock()
	e.plans[plan.ID] = &plan
	e.mu.Unlock()
	e.events.Publish(ctx, "plan.submitted", map[string]interface{}{"plan_id": plan.ID})

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return policy.PlanResult{}, ctx.Err()
	}
	defer func() { <-e.sem }()

	tmu := e.targetMutex(targetKey(plan))
	tmu.Lock()
	defer tmu.Unlock()

	result, err := e.engine.Evaluate(plan, mode, time.Now())
	if err != nil {
		return policy.PlanResult{}, err
	}
	if !result.Approved {
		e.finish(ctx, plan.ID, domain.PlanStatusRejected, result)
		e.events.Publish(ctx, "plan.rejected", map[string]interface{}{"plan_id": plan.ID, "violations": result.Violations})
		return result, nil
	}
	if result.Shadow {
		e.finish(ctx, plan.ID, domain.PlanStatusCompleted, result)
		e.events.Publish(ctx, "plan.shadow_executed", map[string]interface{}{"plan_id": plan.ID})
		return result, nil
	}
	e.events.Publish(ctx, "plan.approved", map[string]interface{}{"plan_id": plan.ID})

	e.setStatus(plan.ID, domain.PlanStatusExecuting)
	allSucceeded := true
	for _, d := range plan.Decisions {
		if err := e.dispatchDecision(ctx, plan, d); err != nil {
			allSucceeded = false
			if abortOnFirstFailure(plan) {
				break
			}
		}
	}

	final := domain.PlanStatusCompleted
	if !allSucceeded {
		final = domain.PlanStatusFailed
	}
	e.finish(ctx, plan.ID, final, result)
	if final == domain.PlanStatusCompleted {
		e.events.Publish(ctx, "plan.completed", map[string]interface{}{"plan_id": plan.ID})
	} else {
		e.events.Publish(ctx, "plan.failed", map[string]interface{}{"plan_id": plan.ID})
	}
	return result, nil
}

func isTerminal(s domain.ActionPlanStatus) bool {
	return s == domain.PlanStatusCompleted || s == domain.PlanStatusFailed || s == domain.PlanStatusRejected
}

func abortOnFirstFailure(plan domain.ActionPlan) bool {
	return false // plan.abort_on_first_failure is opt-in per §4.7 step 4; default continues.
}

func (e *Executor) setStatus(planID string, status domain.ActionPlanStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.plans[planID]; ok {
		p.Status = status
	}
}

func (e *Executor) finish(ctx context.Context, planID string, status domain.ActionPlanStatus, result policy.PlanResult) {
	e.mu.Lock()
	now := time.Now()
	if p, ok := e.plans[planID]; ok {
		p.Status = status
		p.CompletedAt = &now
	}
	e.results[planID] = result
	e.mu.Unlock()
}

// dispatchDecision executes one decision under its blast-radius and
// approval gates, emitting decision.started/completed/failed/skipped.
func (e *Executor) dispatchDecision(ctx context.Context, plan domain.ActionPlan, d domain.Decision) error {
	safety := decodeSafety(d.Params)

	if safety.RequiresApproval {
		e.mu.RLock()
		approved := e.approvals[d.ID]
		e.mu.RUnlock()
		if !approved {
			e.events.Publish(ctx, "decision.skipped", map[string]interface{}{"decision_id": d.ID, "reason": "awaiting_approval"})
			return fmt.Errorf("decision %s awaiting_approval", d.ID)
		}
	}

	if safety.MaxBlastRadiusPercent > 0 && e.fleetSizer != nil {
		fleetSize, err := e.fleetSizer.FleetSize(ctx, d.Target)
		if err == nil && fleetSize > 0 {
			affected := affectedCount(d)
			fraction := float64(affected) / float64(fleetSize) * 100.0
			if fraction > safety.MaxBlastRadiusPercent {
				e.events.Publish(ctx, "decision.skipped", map[string]interface{}{"decision_id": d.ID, "reason": "blast_radius_exceeded"})
				return fmt.Errorf("decision %s blast_radius_exceeded", d.ID)
			}
		}
	}

	e.events.Publish(ctx, "decision.started", map[string]interface{}{"decision_id": d.ID})

	dctx := ctx
	var cancel context.CancelFunc
	timeout := e.defaultTimeout
	if v, ok := d.Params["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	dctx, cancel = context.WithTimeout(dctx, timeout)
	defer cancel()

	err := e.execVerb(dctx, plan, d)
	if err != nil {
		e.events.Publish(ctx, "decision.failed", map[string]interface{}{"decision_id": d.ID, "error": err.Error()})
		return err
	}
	e.events.Publish(ctx, "decision.completed", map[string]interface{}{"decision_id": d.ID})
	return nil
}

func decodeSafety(params map[string]interface{}) DecisionSafety {
	s := DecisionSafety{}
	raw, ok := params["safety"].(map[string]interface{})
	if !ok {
		return s
	}
	if v, ok := raw["max_blast_radius_percent"].(float64); ok {
		s.MaxBlastRadiusPercent = v
	}
	if v, ok := raw["requires_approval"].(bool); ok {
		s.RequiresApproval = v
	}
	return s
}

func affectedCount(d domain.Decision) int {
	if v, ok := d.Params["replicas"].(float64); ok {
		return int(v)
	}
	return 1
}

func (e *Executor) execVerb(ctx context.Context, plan domain.ActionPlan, d domain.Decision) error {
	name := resourceName(d)
	namespace := namespaceOf(d)
	switch d.Verb {
	case domain.VerbScale:
		replicas, _ := d.Params["replicas"].(float64)
		_, err := e.driver.Scale(ctx, name, namespace, int32(replicas))
		return err

	case domain.VerbDeploy:
		if strategy, _ := d.Params["strategy"].(string); strategy == "canary" && e.canaryMgr != nil {
			spec := clusterdriver.ResourceSpec{Name: name, Namespace: namespace, WorkloadID: d.Target.WorkloadID}
			if image, ok := d.Params["image"].(string); ok {
				spec.Image = image
			}
			total, _ := d.Params["total_replicas"].(float64)
			_, err := e.canaryMgr.StartCanary(ctx, d.Target.WorkloadID, name, namespace, int(total), spec, canary.DefaultConfig())
			return err
		}
		patch := map[string]interface{}{}
		if image, ok := d.Params["image"].(string); ok {
			patch["image"] = image
		}
		_, err := e.driver.Update(ctx, name, namespace, patch)
		return err

	case domain.VerbRollback:
		var toRevision *int64
		if v, ok := d.Params["revision"].(float64); ok {
			r := int64(v)
			toRevision = &r
		}
		_, err := e.driver.Rollback(ctx, name, namespace, toRevision)
		return err

	case domain.VerbRestart:
		_, err := e.driver.Update(ctx, name, namespace, map[string]interface{}{"labels": map[string]string{"restarted-at": time.Now().Format(time.RFC3339)}})
		return err

	case domain.VerbDrain:
		return e.drain(ctx, name, namespace, d)

	case domain.VerbDelete:
		return e.driver.Delete(ctx, name, namespace, 30)

	default:
		if verb, ok := d.Params["verb_override"].(string); ok && verb == "reschedule" {
			return e.reschedule(ctx, name, namespace, d)
		}
		return ErrInvalidPlan
	}
}

func (e *Executor) reschedule(ctx context.Context, name, namespace string, d domain.Decision) error {
	existing, err := e.driver.Get(ctx, name, namespace)
	if err != nil {
		return err
	}
	if err := e.driver.Delete(ctx, name, namespace, 30); err != nil {
		return err
	}
	_, err = e.driver.Create(ctx, clusterdriver.ResourceSpec{
		Name: name, Namespace: namespace, WorkloadID: d.Target.WorkloadID,
		Replicas: existing.Replicas, Labels: existing.Labels,
	})
	return err
}

func (e *Executor) drain(ctx context.Context, name, namespace string, d domain.Decision) error {
	ttl := 60 * time.Second
	if v, ok := d.Params["ttl_seconds"].(float64); ok && v > 0 {
		ttl = time.Duration(v) * time.Second
	}
	if _, err := e.driver.Scale(ctx, name, namespace, 0); err != nil {
		return err
	}
	deadline := time.Now().Add(ttl)
	for time.Now().Before(deadline) {
		pods, err := e.driver.ListPods(ctx, name, namespace)
		if err != nil || len(pods) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

func resourceName(d domain.Decision) string {
	if v, ok := d.Params["resource_name"].(string); ok {
		return v
	}
	return d.Target.WorkloadID
}

func namespaceOf(d domain.Decision) string {
	if v, ok := d.Target.Labels["namespace"]; ok {
		return v
	}
	return "default"
}
